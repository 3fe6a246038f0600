package cron

import (
	"context"
	"fmt"
	"time"

	mpwebhook "github.com/verdeviva/verdeviva-backend/internal/webhooks/mercadopago"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultRetryMinAge = 30 * time.Minute
	defaultRetryLimit  = 100
)

type deferredLister interface {
	ListDeferred(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookLog, error)
}

type webhookReplayer interface {
	Replay(ctx context.Context, original *models.WebhookLog) (*mpwebhook.Result, error)
}

// WebhookRetryJobParams configures the deferred notification retry job.
type WebhookRetryJobParams struct {
	Logger   *logger.Logger
	Logs     deferredLister
	Replayer webhookReplayer
	MinAge   time.Duration
	Limit    int
	Now      func() time.Time
}

// NewWebhookRetryJob builds the job that replays deferred webhook logs once
// they are old enough for the provider-side data to have settled.
func NewWebhookRetryJob(params WebhookRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Logs == nil {
		return nil, fmt.Errorf("webhook log lister required")
	}
	if params.Replayer == nil {
		return nil, fmt.Errorf("replayer required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultRetryMinAge
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRetryLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &webhookRetryJob{
		logg:     params.Logger,
		logs:     params.Logs,
		replayer: params.Replayer,
		minAge:   minAge,
		limit:    limit,
		now:      now,
	}, nil
}

type webhookRetryJob struct {
	logg     *logger.Logger
	logs     deferredLister
	replayer webhookReplayer
	minAge   time.Duration
	limit    int
	now      func() time.Time
}

func (j *webhookRetryJob) Name() string { return "webhook-retry" }

func (j *webhookRetryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.minAge)
	deferred, err := j.logs.ListDeferred(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list deferred webhook logs: %w", err)
	}

	var errs error
	processed, redeferred := 0, 0
	for i := range deferred {
		result, err := j.replayer.Replay(ctx, &deferred[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", deferred[i].NotificationID, err))
			continue
		}
		switch result.Outcome {
		case mpwebhook.OutcomeProcessed, mpwebhook.OutcomeIgnored:
			processed++
		default:
			redeferred++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(deferred),
		"processed":  processed,
		"redeferred": redeferred,
	})
	j.logg.Info(logCtx, "webhook retry loop complete")
	return errs
}
