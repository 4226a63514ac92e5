package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/splax/agentdeploy/internal/metrics"
)

const defaultConcurrency = 4

// Outcome reports how a bulk run went. Partial success is a normal outcome.
type Outcome struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Error is returned only when every attempted item failed. Err is the last
// per-item failure observed.
type Error struct {
	Outcome Outcome
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bulk operation failed for all %d items: %v", e.Outcome.Attempted, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner executes independent operations with bounded concurrency.
type Runner struct {
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// New constructs a Runner. Non-positive concurrency falls back to the default.
func New(concurrency int, logger *slog.Logger, rec *metrics.Recorder) Runner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Runner{concurrency: concurrency, logger: logger.With("component", "bulk"), metrics: rec}
}

// Run executes op for every item without stopping early and returns the
// counts. It returns an *Error only when attempted > 0 and nothing succeeded;
// its cause is the failure of the highest-indexed item. A zero Runner uses the
// default concurrency.
func Run[T any](ctx context.Context, r Runner, items []T, op func(context.Context, T) error) (Outcome, error) {
	out := Outcome{Attempted: len(items)}
	if len(items) == 0 {
		return out, nil
	}
	limit := r.concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	logger := r.logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		mu      sync.Mutex
		lastIdx = -1
		lastErr error
	)
	// Failures are counted, never returned to the group, so one item cannot
	// cancel its siblings.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			err := op(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed++
				if i > lastIdx {
					lastIdx, lastErr = i, err
				}
				logger.Warn("bulk item failed", "index", i, "error", err)
				return nil
			}
			out.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	r.metrics.BulkItems(out.Succeeded, out.Failed)
	if out.Succeeded == 0 {
		return out, &Error{Outcome: out, Err: lastErr}
	}
	return out, nil
}
