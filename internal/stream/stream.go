// Package stream consumes server-sent chat-completion streams and publishes
// a running snapshot of the in-flight assistant message after every applied
// delta. The stream is a finite sequence of immutable snapshots ending in a
// Done snapshot; it is not restartable.
package stream

import (
	"context"
	"io"
	"strings"

	"github.com/comigor/imagen-go/internal/filter"
	"github.com/comigor/imagen-go/internal/logger"
	"github.com/comigor/imagen-go/internal/payload"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// PartialMarker is appended to the visible content when the transport
	// closes before the end-of-stream sentinel arrives.
	PartialMarker = "\n\n[output interrupted]"
)

// Snapshot is the published state of the in-flight assistant message.
// Content grows monotonically until Done, after which the message is final.
type Snapshot struct {
	// Content is the filtered text for display.
	Content string
	// Raw is the unfiltered accumulator.
	Raw string
	// Trace is the ordered sequence of decoded frames seen so far, kept for
	// diagnostics.
	Trace []payload.Parsed
	// FinishReason is the completion-reason flag, when the provider sent one.
	FinishReason string
	// Done marks the terminal snapshot.
	Done bool
	// Partial is set on a Done snapshot produced by transport close with no
	// sentinel.
	Partial bool
}

// Ingest reads the event stream from r and returns the snapshot sequence.
// The channel is closed after the terminal snapshot. Malformed frames are
// dropped, never fatal. Cancelling ctx abandons the stream: the reader is
// released and no further snapshots are published.
//
// Ingest takes ownership of r and always closes it.
func Ingest(ctx context.Context, r io.ReadCloser) <-chan Snapshot {
	out := make(chan Snapshot)
	go ingest(ctx, r, out)
	return out
}

func ingest(ctx context.Context, r io.ReadCloser, out chan<- Snapshot) {
	defer close(out)
	defer r.Close()

	// Unblock a pending Read when the caller abandons the stream.
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	var (
		acc     strings.Builder
		trace   []payload.Parsed
		finish  string
		pending string
	)

	publish := func(s Snapshot) bool {
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	terminal := func(partial bool) {
		if ctx.Err() != nil {
			return
		}
		raw := acc.String()
		content := filter.Clean(raw)
		if partial {
			content += PartialMarker
		}
		publish(Snapshot{
			Content:      content,
			Raw:          raw,
			Trace:        trace,
			FinishReason: finish,
			Done:         true,
			Partial:      partial,
		})
	}

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := pending + string(buf[:n])
			lines := strings.Split(chunk, "\n")
			pending = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				line = strings.TrimSuffix(line, "\r")
				if !strings.HasPrefix(line, dataPrefix) {
					continue
				}
				data := strings.TrimSpace(line[len(dataPrefix):])
				if data == doneSentinel {
					terminal(false)
					return
				}
				p := payload.ParseText(data)
				if !p.Exists() {
					// A single malformed frame never aborts the stream.
					logger.L.Debug("dropping malformed stream frame", "frame", data)
					continue
				}
				trace = append(trace, p)

				if delta := p.Get("choices.0.delta.content").String(); delta != "" {
					acc.WriteString(delta)
					raw := acc.String()
					if !publish(Snapshot{Content: filter.Clean(raw), Raw: raw, Trace: trace, FinishReason: finish}) {
						return
					}
				}
				if fr := p.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
					// Ends this payload; only the sentinel or transport
					// close moves the stream to done, and the sentinel may
					// share a read chunk with this frame.
					finish = fr.String()
					continue
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err != io.EOF {
				logger.L.Warn("stream transport error", "error", err)
			}
			terminal(true)
			return
		}
	}
}
