package reporting

import (
	"context"
	"time"

	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

// DefaultWindow bounds the report when the caller does not pick one.
const DefaultWindow = 30 * 24 * time.Hour

// WebhookRollup summarizes ingestion outcomes inside the report window.
type WebhookRollup struct {
	Received     int64   `json:"received"`
	Processed    int64   `json:"processed"`
	Deferred     int64   `json:"deferred"`
	Failed       int64   `json:"failed"`
	FailureRatio float64 `json:"failure_ratio"`
}

// SubscriptionReport is the read-only rollup served to admins. It is
// computed on demand and never persisted.
type SubscriptionReport struct {
	GeneratedAt           time.Time                          `json:"generated_at"`
	Since                 time.Time                          `json:"since"`
	SubscriptionsByStatus map[enums.SubscriptionStatus]int64 `json:"subscriptions_by_status"`
	Revenue               []RevenueRollup                    `json:"revenue"`
	ActivationSources     map[string]int64                   `json:"activation_sources"`
	Webhooks              WebhookRollup                      `json:"webhooks"`
}

type webhookCounter interface {
	CountByStatusSince(ctx context.Context, since time.Time) (map[enums.WebhookLogStatus]int64, error)
}

// ServiceParams wires the reporting dependencies.
type ServiceParams struct {
	Repo        Repository
	WebhookLogs webhookCounter
	Logger      *logger.Logger
}

// Service produces aggregate reports over subscriptions, the billing
// ledger and the webhook log. Strictly read-only.
type Service struct {
	repo        Repository
	webhookLogs webhookCounter
	logg        *logger.Logger
}

// NewService validates dependencies and returns the reporting service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reporting repository required")
	}
	if params.WebhookLogs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook log counter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:        params.Repo,
		webhookLogs: params.WebhookLogs,
		logg:        params.Logger,
	}, nil
}

// SubscriptionsReport assembles the rollup for the given window. A zero
// window falls back to the default thirty days.
func (s *Service) SubscriptionsReport(ctx context.Context, window time.Duration) (*SubscriptionReport, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	since := time.Now().UTC().Add(-window)

	byStatus, err := s.repo.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count subscriptions")
	}
	revenue, err := s.repo.SumRevenueByCurrencyMonth(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum revenue")
	}
	sources, err := s.repo.CountLedgerBySource(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count activation sources")
	}
	webhookCounts, err := s.webhookLogs.CountByStatusSince(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count webhook logs")
	}

	report := &SubscriptionReport{
		GeneratedAt:           time.Now().UTC(),
		Since:                 since,
		SubscriptionsByStatus: byStatus,
		Revenue:               revenue,
		ActivationSources:     sources,
		Webhooks:              webhookRollup(webhookCounts),
	}
	return report, nil
}

func webhookRollup(counts map[enums.WebhookLogStatus]int64) WebhookRollup {
	rollup := WebhookRollup{
		Received:  counts[enums.WebhookLogStatusReceived],
		Processed: counts[enums.WebhookLogStatusProcessed],
		Deferred:  counts[enums.WebhookLogStatusDeferred],
		Failed:    counts[enums.WebhookLogStatusFailed],
	}
	total := rollup.Received + rollup.Processed + rollup.Deferred + rollup.Failed
	if total > 0 {
		rollup.FailureRatio = float64(rollup.Failed) / float64(total)
	}
	return rollup
}
