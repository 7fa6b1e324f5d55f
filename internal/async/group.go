// Package async runs detached background tasks that must not outlive shutdown.
package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redmonkez12/accountd/internal/logging"
)

// Group tracks fire-and-forget tasks. Task failures are logged, never returned.
type Group struct {
	wg      sync.WaitGroup
	logger  *logging.Logger
	timeout time.Duration
}

// NewGroup returns a Group whose tasks are each bounded by timeout.
// A non-positive timeout leaves tasks unbounded.
func NewGroup(logger *logging.Logger, timeout time.Duration) *Group {
	return &Group{logger: logger, timeout: timeout}
}

// Go runs fn on its own goroutine. The task keeps ctx's values but not its
// cancellation, so it survives the request that started it.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx := context.WithoutCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		var cancel context.CancelFunc
		if g.timeout > 0 {
			taskCtx, cancel = context.WithTimeout(taskCtx, g.timeout)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				g.logger.LogError("background task panicked", fmt.Errorf("task %s: %v", name, r))
			}
		}()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			g.logger.Warn("background task failed",
				"task", name,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err.Error(),
			)
			return
		}
		g.logger.Debug("background task finished", "task", name)
	}()
}

// Wait blocks until every task has finished or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
