// Package payload turns raw chat-completion response bodies into a
// best-effort parsed form. Bodies arrive in inconsistent shapes (JSON,
// HTML error pages, truncated JSON, plain text) and downstream logic
// must never see a decode error.
package payload

import (
	"github.com/tidwall/gjson"
)

// RawResponse is an opaque response body plus its transport metadata.
// It is immutable once received.
type RawResponse struct {
	Body        []byte
	StatusCode  int
	ContentType string
}

// Parsed is the loosely-typed tree recovered from a RawResponse.
// Exists reports whether the body decoded as JSON at all; when false the
// tree is empty and only Text carries information.
type Parsed struct {
	root   gjson.Result
	exists bool
	raw    string
}

// Normalize attempts a structured decode of the response body. Decode
// failure is swallowed: the returned Parsed has Exists() == false and
// downstream extraction falls back to treating the body as plain text.
func Normalize(raw RawResponse) Parsed {
	if !gjson.ValidBytes(raw.Body) {
		return Parsed{raw: string(raw.Body)}
	}
	return Parsed{
		root:   gjson.ParseBytes(raw.Body),
		exists: true,
		raw:    string(raw.Body),
	}
}

// ParseText normalizes a text fragment that is already detached from any
// transport metadata, such as a single stream frame.
func ParseText(s string) Parsed {
	if !gjson.Valid(s) {
		return Parsed{raw: s}
	}
	return Parsed{root: gjson.Parse(s), exists: true, raw: s}
}

// Exists reports whether the body decoded as structured JSON.
func (p Parsed) Exists() bool { return p.exists }

// Get returns the value at a gjson path, or a zero Result when the body
// never decoded.
func (p Parsed) Get(path string) gjson.Result {
	if !p.exists {
		return gjson.Result{}
	}
	return p.root.Get(path)
}

// Text returns the raw body text regardless of decode outcome.
func (p Parsed) Text() string { return p.raw }

// String returns the stringified payload: the raw JSON when decode
// succeeded, otherwise the raw body text. Used by the whole-payload
// extraction fallback.
func (p Parsed) String() string { return p.raw }
