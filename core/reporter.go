package core

import (
	"context"
	"time"
)

// RunReporter publishes a reading from next every interval while the agent
// is registered. Ticks while unregistered or installing are skipped. It
// returns when ctx ends.
func RunReporter(ctx context.Context, agent *Agent, interval time.Duration, next func() any) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := agent.PublishReading(ctx, next())
			if err == nil || IsTransient(err) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			agent.log.Warn("failed to publish reading", "error", err)
		case <-ctx.Done():
			return
		}
	}
}
