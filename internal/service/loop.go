package service

import (
	"context"
	"time"
)

// every runs fn now and then on each tick until ctx is done. A non-positive
// interval runs fn once.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	fn(ctx)
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
