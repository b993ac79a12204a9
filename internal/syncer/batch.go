// internal/syncer/batch.go
package syncer

import (
	"context"
	"time"
)

// window groups items from in into slices of at most size items, flushing a
// partial slice maxWait after its first item arrived. The final partial slice
// is flushed when in closes. window does not close out.
func window[T any](ctx context.Context, in <-chan T, out chan<- []T, size int, maxWait time.Duration) error {
	var (
		buf     []T
		timer   *time.Timer
		timeout <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
	}
	defer stopTimer()

	flush := func() error {
		stopTimer()
		if len(buf) == 0 {
			return nil
		}
		select {
		case out <- buf:
			buf = nil
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case item, ok := <-in:
			if !ok {
				return flush()
			}
			buf = append(buf, item)
			if len(buf) == 1 {
				timer = time.NewTimer(maxWait)
				timeout = timer.C
			}
			if len(buf) >= size {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-timeout:
			timer, timeout = nil, nil
			if err := flush(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
