// Package llm is the outbound transport to an OpenAI-compatible
// chat-completion endpoint. It builds requests from go-openai types but
// performs the POST itself so callers always see the raw response bytes —
// provider bodies are too inconsistent to trust a typed decode.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/comigor/imagen-go/internal/config"
	"github.com/comigor/imagen-go/internal/payload"
)

// MaxUserMessageLen caps every user-facing error message.
const MaxUserMessageLen = 200

// Doer is the minimal subset of http.Client used by the llm client; it is
// easy to mock in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts chat-completion requests and hands back raw responses.
type Client struct {
	cfg  config.LLMConfig
	http Doer
}

// NewClient creates a new chat-completion client.
func NewClient(cfg config.LLMConfig) *Client {
	return &Client{cfg: cfg, http: &http.Client{}}
}

// NewClientWithDoer creates a client with a custom transport, for tests.
func NewClientWithDoer(cfg config.LLMConfig, d Doer) *Client {
	return &Client{cfg: cfg, http: d}
}

// TransportError is a non-2xx upstream status or a network failure. The
// message is already truncated for display.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return "request failed: " + e.Message
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// Complete sends a non-streaming chat completion and returns the raw
// response for normalization. A non-2xx status or network failure yields a
// *TransportError; the body is never decoded here beyond a best-effort look
// for error.message.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (payload.RawResponse, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return payload.RawResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return payload.RawResponse{}, &TransportError{Message: Truncate(err.Error())}
	}
	raw := payload.RawResponse{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &TransportError{StatusCode: resp.StatusCode, Message: serverMessage(body)}
	}
	return raw, nil
}

// Stream sends a streaming chat completion and returns the undecoded event
// stream. The caller owns the reader and must close it, including on
// abandonment.
func (c *Client) Stream(ctx context.Context, messages []openai.ChatCompletionMessage) (io.ReadCloser, error) {
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: serverMessage(body)}
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, messages []openai.ChatCompletionMessage, stream bool) (*http.Response, error) {
	reqBody := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Stream:      stream,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &TransportError{Message: Truncate(err.Error())}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, &TransportError{Message: Truncate(err.Error())}
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.APIKey))
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Message: Truncate(err.Error())}
	}
	return resp, nil
}

// UserMessage builds the outbound user message: plain string content when
// there are no attachments, multimodal blocks otherwise.
func UserMessage(prompt string, imageURLs []string) openai.ChatCompletionMessage {
	if len(imageURLs) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	}
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for _, u := range imageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// serverMessage extracts a display message from an upstream error body:
// error.message when the body is JSON, the raw text otherwise.
func serverMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return Truncate(msg.String())
	}
	return Truncate(strings.TrimSpace(string(body)))
}

// Truncate caps s at MaxUserMessageLen characters for user-facing messages.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxUserMessageLen {
		return s
	}
	return string(r[:MaxUserMessageLen])
}
