package generate

import (
	"context"

	"github.com/comigor/imagen-go/internal/history"
	"github.com/comigor/imagen-go/internal/logger"
)

// BatchItem is the outcome of one request in a batch: a result or a
// per-request error, never both.
type BatchItem struct {
	Result *Result
	Err    error
}

// Batch issues count independent generation requests concurrently and
// appends each successful run to the store as it completes. There is no
// ordering guarantee between completions; history insertion order reflects
// completion order, not request order. Per-request failures are carried in
// the returned items, so a batch as a whole never fails.
func (g *Generator) Batch(ctx context.Context, store *history.Store, prompt string, attachments []string, count int) []BatchItem {
	if count < 1 {
		count = 1
	}

	done := make(chan BatchItem, count)
	for i := 0; i < count; i++ {
		go func() {
			res, err := g.Generate(ctx, prompt, attachments)
			done <- BatchItem{Result: res, Err: err}
		}()
	}

	items := make([]BatchItem, 0, count)
	for i := 0; i < count; i++ {
		item := <-done
		if item.Err == nil && store != nil {
			if err := store.AppendRun(item.Result.Run); err != nil {
				logger.L.Warn("failed to persist generation run", "run", item.Result.Run.ID, "error", err)
			}
		}
		items = append(items, item)
	}
	return items
}
