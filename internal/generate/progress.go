package generate

import (
	"context"
	"time"
)

// progressCap is the estimate ceiling: the bar never claims completion,
// only real results do.
const progressCap = 95

// Progress emits a cosmetic percentage estimate on a fixed interval while a
// generation is in flight. The estimate advances by a shrinking step and is
// bounded below progressCap; it never signals real completion. The channel
// closes when ctx is cancelled.
func Progress(ctx context.Context, interval time.Duration) <-chan int {
	out := make(chan int)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		percent := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				step := (progressCap - percent) / 8
				if step < 1 {
					step = 1
				}
				percent += step
				if percent > progressCap {
					percent = progressCap
				}
				select {
				case out <- percent:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
