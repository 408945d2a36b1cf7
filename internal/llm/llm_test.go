package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/imagen-go/internal/config"
)

func TestComplete_RawBodyReturned(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o"})
	raw, err := c.Complete(context.Background(), []openai.ChatCompletionMessage{UserMessage("draw a cat", nil)})
	require.NoError(t, err)
	require.Equal(t, 200, raw.StatusCode)
	require.Contains(t, string(raw.Body), `"content":"ok"`)
	require.Equal(t, "Bearer sk-test", gotAuth)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotBody), &sent))
	require.Equal(t, "gpt-4o", sent["model"])
}

func TestComplete_Non2xxNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>gateway exploded</html>"))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 500, terr.StatusCode)
	require.Contains(t, err.Error(), "500")
	require.Contains(t, terr.Message, "gateway exploded")
}

func TestComplete_ErrorMessageExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "invalid api key", terr.Message)
}

func TestComplete_NetworkFailure(t *testing.T) {
	c := NewClientWithDoer(config.LLMConfig{BaseURL: "http://example.invalid"}, doerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))
	_, err := c.Complete(context.Background(), nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 0, terr.StatusCode)
}

func TestStream_SetsStreamFlag(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL})
	rc, err := c.Stream(context.Background(), nil)
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	require.Equal(t, "data: [DONE]\n", string(b))
	require.Contains(t, gotBody, `"stream":true`)
}

func TestUserMessage_Multimodal(t *testing.T) {
	msg := UserMessage("describe", []string{"data:image/png;base64,AAAA"})
	require.Empty(t, msg.Content)
	require.Len(t, msg.MultiContent, 2)
	require.Equal(t, "describe", msg.MultiContent[0].Text)
	require.Equal(t, "data:image/png;base64,AAAA", msg.MultiContent[1].ImageURL.URL)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc"))
	long := strings.Repeat("x", 500)
	require.Len(t, Truncate(long), MaxUserMessageLen)
}

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }
