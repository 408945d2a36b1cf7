// Package extract recovers image references from chat-completion responses.
//
// Providers return images in wildly different shapes: multimodal content
// blocks, inline data URIs, markdown image syntax, bare links buried in
// prose, or a top-level images array. The extractor runs an ordered list of
// pattern-matching strategies; each later tier is attempted only when every
// earlier tier recovered nothing. Extraction never fails — no match means an
// empty result, not an error.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/comigor/imagen-go/internal/payload"
)

// Kind discriminates the two asset shapes a response can yield.
type Kind int

const (
	KindImage Kind = iota
	KindText
)

// Asset is a single piece of content recovered from a response: either a
// validated image reference or a text chunk from a structured content block.
type Asset struct {
	Kind Kind
	// URL is set for KindImage: an absolute URI with an allowed scheme.
	URL string
	// Text is set for KindText.
	Text string
}

// Input bundles everything a strategy may scan: the normalized payload and,
// when the caller already located one, the nested multimodal content array.
type Input struct {
	Payload payload.Parsed
	// Content is the message content array, when present. A zero Result
	// disables the structured tier.
	Content gjson.Result
	// RawText is scanned by the textual tiers. For a plain-text response
	// this is the whole body.
	RawText string
}

// Strategy is one extraction tier: a pure function from input to recovered
// assets. Tiers are tried in order with short-circuiting on the first tier
// that yields an image.
type Strategy func(Input) []Asset

var (
	// Base64 body of an embedded image literal. Deliberately unanchored:
	// decoration text commonly precedes the data URI.
	dataURIRe = regexp.MustCompile(`data:image/(?:png|jpeg|webp);base64,[A-Za-z0-9+/=]+`)

	// Markdown image syntax. The target is trusted as an image URL even
	// without a file extension.
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)

	bareURLRe = regexp.MustCompile(`https?://[^\s<>"'\)\]\}]+`)
)

// Trailing characters that terminate a URL in running prose but are not
// part of it, including full-width punctuation.
const trailingPunct = ".,;:!?、。，）】」』！？；："

// Extract runs the tier cascade over in and returns the ordered,
// de-duplicated assets. Tier order is a design decision: structured content
// first, then embedded literals, then plain-URL recovery over the visible
// text, then the whole stringified payload, then the alternate images
// container.
func Extract(in Input) []Asset {
	strategies := []Strategy{
		structuredContent,
		embeddedDataURIs,
		plainURLs,
		wholePayload,
		imagesContainer,
	}

	dedup := newAssetSet()
	for _, strat := range strategies {
		for _, a := range strat(in) {
			dedup.add(a)
		}
		if dedup.imageCount > 0 {
			break
		}
	}
	return dedup.assets
}

// Images filters assets down to their image URLs, preserving order.
func Images(assets []Asset) []string {
	var out []string
	for _, a := range assets {
		if a.Kind == KindImage {
			out = append(out, a.URL)
		}
	}
	return out
}

// assetSet keeps insertion order and drops duplicates, keyed by validated
// URL for images and by content for text chunks. First occurrence wins.
type assetSet struct {
	seen       map[string]bool
	assets     []Asset
	imageCount int
}

func newAssetSet() *assetSet {
	return &assetSet{seen: make(map[string]bool)}
}

func (s *assetSet) add(a Asset) {
	key := a.URL
	if a.Kind == KindText {
		key = "t\x00" + a.Text
	}
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.assets = append(s.assets, a)
	if a.Kind == KindImage {
		s.imageCount++
	}
}

// structuredContent is tier 1: iterate an explicit multimodal content array,
// picking up image_url blocks by field and re-scanning text blocks with the
// textual tiers.
func structuredContent(in Input) []Asset {
	if !in.Content.Exists() || !in.Content.IsArray() {
		return nil
	}
	var out []Asset
	in.Content.ForEach(func(_, item gjson.Result) bool {
		if u := item.Get("image_url.url"); u.Exists() {
			if valid, ok := ValidateURL(u.String()); ok {
				out = append(out, Asset{Kind: KindImage, URL: valid})
			}
			return true
		}
		if txt := item.Get("text"); txt.Exists() {
			text := txt.String()
			nested := embeddedDataURIs(Input{RawText: text})
			if len(nested) == 0 {
				nested = plainURLs(Input{RawText: text})
			}
			out = append(out, nested...)
			if text != "" {
				out = append(out, Asset{Kind: KindText, Text: text})
			}
		}
		return true
	})
	return out
}

// embeddedDataURIs is tier 2: recover data:image/...;base64 literals from
// anywhere in the scanned text.
func embeddedDataURIs(in Input) []Asset {
	var out []Asset
	for _, m := range dataURIRe.FindAllString(in.RawText, -1) {
		out = append(out, Asset{Kind: KindImage, URL: m})
	}
	return out
}

// plainURLs is tier 3: markdown image targets first, then bare http(s)
// tokens with trailing prose punctuation trimmed. Every candidate passes
// through the scheme validator; rejects are dropped silently.
func plainURLs(in Input) []Asset {
	var out []Asset
	for _, m := range markdownImageRe.FindAllStringSubmatch(in.RawText, -1) {
		if valid, ok := ValidateURL(trimURL(m[1])); ok {
			out = append(out, Asset{Kind: KindImage, URL: valid})
		}
	}
	for _, m := range bareURLRe.FindAllString(in.RawText, -1) {
		if valid, ok := ValidateURL(trimURL(m)); ok {
			out = append(out, Asset{Kind: KindImage, URL: valid})
		}
	}
	return out
}

// wholePayload is tier 4: stringify the entire parsed payload and re-run
// plain-URL recovery over it, catching URLs nested in unanticipated fields.
func wholePayload(in Input) []Asset {
	if !in.Payload.Exists() {
		return nil
	}
	return plainURLs(Input{RawText: in.Payload.String()})
}

// imagesContainer is tier 5: the known alternate `images[]` container of
// {image_url: {url}} objects some providers return at the top level.
func imagesContainer(in Input) []Asset {
	imgs := in.Payload.Get("images")
	if !imgs.Exists() || !imgs.IsArray() {
		return nil
	}
	var out []Asset
	imgs.ForEach(func(_, item gjson.Result) bool {
		if u := item.Get("image_url.url"); u.Exists() {
			if valid, ok := ValidateURL(u.String()); ok {
				out = append(out, Asset{Kind: KindImage, URL: valid})
			}
		}
		return true
	})
	return out
}

func trimURL(s string) string {
	return strings.TrimRight(s, trailingPunct)
}

// ValidateURL re-parses a candidate image URL and accepts only the scheme
// allow-list. Parse failure drops the candidate: absence, not failure.
func ValidateURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch u.Scheme {
	case "http", "https", "data", "blob":
		return raw, true
	}
	return "", false
}
