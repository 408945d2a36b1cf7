// Package generate drives a single image generation against the
// chat-completion endpoint: dispatch, extraction over the raw response, and
// a bounded retry when extraction comes back empty.
package generate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/imagen-go/internal/config"
	"github.com/comigor/imagen-go/internal/extract"
	"github.com/comigor/imagen-go/internal/history"
	"github.com/comigor/imagen-go/internal/llm"
	"github.com/comigor/imagen-go/internal/logger"
	"github.com/comigor/imagen-go/internal/payload"
)

// FSM states
type FSMState stateless.State

var (
	StateReadyToCall  FSMState = "ReadyToCall"
	StateRetryPending FSMState = "RetryPending"
	StateDone         FSMState = "Done"  // Terminal: assets recovered
	StateError        FSMState = "Error" // Terminal: transport failure or retry exhausted
)

// FSM triggers
type FSMTrigger stateless.Trigger

var (
	TriggerDispatch         FSMTrigger = "Dispatch"
	TriggerAssetsFound      FSMTrigger = "AssetsFound"
	TriggerNothingExtracted FSMTrigger = "NothingExtracted"
	TriggerRetryPrepared    FSMTrigger = "RetryPrepared"
	TriggerErrorOccurred    FSMTrigger = "ErrorOccurred"
)

// retryInstruction is appended on the single retry: an explicit machine
// instruction demanding image-only output or a stated refusal reason.
const retryInstruction = "Respond with ONLY the generated image, as a markdown image or a direct image URL. Do not include any other text. If you cannot produce an image, reply with the exact reason for the refusal."

// Client is the subset of the llm client the generator needs; it is easy to
// mock in tests.
type Client interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (payload.RawResponse, error)
}

// ValidationError is a bad or missing input, surfaced before any request is
// sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NoAssetError is the terminal failure after the retry also produced no
// assets. Reason carries the best-effort refusal text, already truncated.
type NoAssetError struct {
	Reason string
}

func (e *NoAssetError) Error() string { return e.Reason }

// Result is one successful generation.
type Result struct {
	Run    history.Run
	Assets []extract.Asset
	Images []string
}

// Generator runs generations against a chat-completion endpoint.
type Generator struct {
	llm Client
	cfg config.LLMConfig
}

// New creates a new generator.
func New(client Client, cfg config.LLMConfig) *Generator {
	return &Generator{llm: client, cfg: cfg}
}

// Generate sends the prompt (plus optional attached image references) and
// recovers image assets from the response. When extraction yields nothing
// the request is re-sent exactly once with a stricter instruction; a second
// empty extraction is a *NoAssetError.
func (g *Generator) Generate(ctx context.Context, prompt string, attachments []string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &ValidationError{Reason: "prompt must not be empty"}
	}
	if g.cfg.APIKey == "" {
		return nil, &ValidationError{Reason: "api key is not configured"}
	}

	type fsmContext struct {
		messages  []openai.ChatCompletionMessage
		lastRaw   payload.RawResponse
		assets    []extract.Asset
		attempt   int
		lastError error
	}
	fsmCtx := &fsmContext{
		messages: []openai.ChatCompletionMessage{llm.UserMessage(prompt, attachments)},
	}

	started := time.Now()
	fsm := stateless.NewStateMachine(StateReadyToCall)

	// State: ReadyToCall
	// Action: dispatch the request and run extraction over the raw response.
	fsm.Configure(StateReadyToCall).
		PermitReentry(TriggerDispatch).
		OnEntry(func(ctx context.Context, _ ...any) error {
			fsmCtx.attempt++
			logger.L.Debug("dispatching generation request", "attempt", fsmCtx.attempt)

			raw, err := g.llm.Complete(ctx, fsmCtx.messages)
			if err != nil {
				logger.L.Error("generation request failed", "attempt", fsmCtx.attempt, "error", err)
				fsmCtx.lastError = err
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fsmCtx.lastRaw = raw
			fsmCtx.assets = extractAssets(raw)

			if len(extract.Images(fsmCtx.assets)) > 0 {
				return fsm.FireCtx(ctx, TriggerAssetsFound)
			}
			return fsm.FireCtx(ctx, TriggerNothingExtracted)
		}).
		Permit(TriggerAssetsFound, StateDone).
		Permit(TriggerNothingExtracted, StateRetryPending).
		Permit(TriggerErrorOccurred, StateError)

	// State: RetryPending
	// Action: augment the prompt with the strict instruction and go around
	// exactly once. Retry budget is 1, to bound latency and cost.
	fsm.Configure(StateRetryPending).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if fsmCtx.attempt >= 2 {
				fsmCtx.lastError = &NoAssetError{Reason: refusalReason(fsmCtx.assets, fsmCtx.lastRaw)}
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			logger.L.Info("extraction empty, retrying with strict instruction")
			fsmCtx.messages = append(fsmCtx.messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: retryInstruction,
			})
			return fsm.FireCtx(ctx, TriggerRetryPrepared)
		}).
		Permit(TriggerRetryPrepared, StateReadyToCall).
		Permit(TriggerErrorOccurred, StateError)

	fsm.Configure(StateDone)
	fsm.Configure(StateError).
		OnEntry(func(_ context.Context, _ ...any) error {
			if fsmCtx.lastError == nil {
				fsmCtx.lastError = errors.New("generation failed without a specific error")
			}
			return nil
		})

	// Kick the machine into its initial state's entry action; transitions
	// run synchronously from here to a terminal state.
	if err := fsm.FireCtx(ctx, TriggerDispatch); err != nil {
		if fsmCtx.lastError != nil {
			return nil, fsmCtx.lastError
		}
		return nil, err
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return nil, err
	}
	if state != StateDone {
		if fsmCtx.lastError != nil {
			return nil, fsmCtx.lastError
		}
		return nil, errors.New("generation ended in an unexpected state")
	}

	images := extract.Images(fsmCtx.assets)
	run := history.Run{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		DurationSeconds: time.Since(started).Seconds(),
		PrimaryImageURL: images[0],
	}
	return &Result{Run: run, Assets: fsmCtx.assets, Images: images}, nil
}

// extractAssets builds the extractor input from a raw response: the
// normalized payload, the message content array when the provider sent
// blocks, and the visible text otherwise.
func extractAssets(raw payload.RawResponse) []extract.Asset {
	p := payload.Normalize(raw)
	in := extract.Input{Payload: p}

	content := p.Get("choices.0.message.content")
	switch {
	case content.IsArray():
		in.Content = content
	case content.Exists():
		in.RawText = content.String()
	default:
		// Undecodable or shapeless body: scan it as plain text.
		in.RawText = p.Text()
	}
	return extract.Extract(in)
}

// refusalReason recovers a display reason from the retried response: the
// first textual chunk or the plain message content, truncated, or a generic
// message when the response had no usable text.
func refusalReason(assets []extract.Asset, raw payload.RawResponse) string {
	for _, a := range assets {
		if a.Kind == extract.KindText && strings.TrimSpace(a.Text) != "" {
			return llm.Truncate(strings.TrimSpace(a.Text))
		}
	}
	p := payload.Normalize(raw)
	if content := p.Get("choices.0.message.content"); content.Exists() && !content.IsArray() {
		if txt := strings.TrimSpace(content.String()); txt != "" {
			return llm.Truncate(txt)
		}
	}
	if msg := p.Get("error.message"); msg.Exists() {
		if txt := strings.TrimSpace(msg.String()); txt != "" {
			return llm.Truncate(txt)
		}
	}
	return "no image returned"
}
