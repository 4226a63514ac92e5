package deploy

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/service/policy"
)

type advisoryStep struct {
	name string
	run  func(ctx context.Context) error
}

// advise runs steps concurrently and waits for all of them. A failing step
// is logged once per call and counted; it never reaches the caller or its
// siblings.
func (o *Orchestrator) advise(ctx context.Context, logger *slog.Logger, resourceID string, steps ...advisoryStep) {
	call := domain.CallFrom(ctx)
	var g errgroup.Group
	for _, step := range steps {
		g.Go(func() error {
			err := step.run(ctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, policy.ErrDuplicateGrant) {
				logger.Debug("grant already present", "step", step.name)
				return nil
			}
			o.metrics.AdvisoryFailure(step.name)
			if call.MarkLogged(step.name + "/" + resourceID) {
				logger.Warn("advisory step failed", "step", step.name, "error", &domain.AdvisoryError{Step: step.name, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()
}
