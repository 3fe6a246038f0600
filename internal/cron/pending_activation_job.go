package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

const defaultSweepTimeout = 10 * time.Minute

type sweeper interface {
	SweepOnce(ctx context.Context) (reconciler.SweepStats, error)
}

// PendingActivationJobParams configures the activation sweep cron job.
type PendingActivationJobParams struct {
	Logger  *logger.Logger
	Sweeper sweeper
	Timeout time.Duration
}

// NewPendingActivationJob builds the job that scans subscriptions stuck in
// pending and reconciles each against the provider. The run is time-boxed
// so a slow provider cannot overlap the next cycle.
func NewPendingActivationJob(params PendingActivationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultSweepTimeout
	}
	return &pendingActivationJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
		timeout: timeout,
	}, nil
}

type pendingActivationJob struct {
	logg    *logger.Logger
	sweeper sweeper
	timeout time.Duration
}

func (j *pendingActivationJob) Name() string { return "pending-activation-sweep" }

func (j *pendingActivationJob) Run(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	stats, err := j.sweeper.SweepOnce(runCtx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":      stats.Scanned,
		"activated":    stats.Activated,
		"not_approved": stats.NotApproved,
		"failed":       stats.Failed,
	})
	if err != nil {
		j.logg.Warn(logCtx, "sweep finished with failures")
		return fmt.Errorf("pending activation sweep: %w", err)
	}
	j.logg.Info(logCtx, "pending activation sweep complete")
	return nil
}
