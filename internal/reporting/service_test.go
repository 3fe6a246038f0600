package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

type stubRepo struct {
	statuses map[enums.SubscriptionStatus]int64
	revenue  []RevenueRollup
	sources  map[string]int64
}

func (s *stubRepo) CountSubscriptionsByStatus(_ context.Context) (map[enums.SubscriptionStatus]int64, error) {
	return s.statuses, nil
}

func (s *stubRepo) SumRevenueByCurrencyMonth(_ context.Context, _ time.Time) ([]RevenueRollup, error) {
	return s.revenue, nil
}

func (s *stubRepo) CountLedgerBySource(_ context.Context, _ time.Time) (map[string]int64, error) {
	return s.sources, nil
}

type stubWebhookCounter struct {
	counts map[enums.WebhookLogStatus]int64
}

func (s *stubWebhookCounter) CountByStatusSince(_ context.Context, _ time.Time) (map[enums.WebhookLogStatus]int64, error) {
	return s.counts, nil
}

func TestSubscriptionsReportAssemblesRollups(t *testing.T) {
	repo := &stubRepo{
		statuses: map[enums.SubscriptionStatus]int64{
			enums.SubscriptionStatusActive:  12,
			enums.SubscriptionStatusPending: 3,
		},
		revenue: []RevenueRollup{
			{Currency: "BRL", Month: "2026-01", Total: decimal.RequireFromString("1798.80")},
		},
		sources: map[string]int64{"webhook": 10, "reconciler": 2},
	}
	counter := &stubWebhookCounter{counts: map[enums.WebhookLogStatus]int64{
		enums.WebhookLogStatusProcessed: 18,
		enums.WebhookLogStatusDeferred:  1,
		enums.WebhookLogStatusFailed:    1,
	}}
	svc, err := NewService(ServiceParams{
		Repo:        repo,
		WebhookLogs: counter,
		Logger:      logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	report, err := svc.SubscriptionsReport(context.Background(), 0)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.SubscriptionsByStatus[enums.SubscriptionStatusActive] != 12 {
		t.Fatalf("expected 12 active, got %d", report.SubscriptionsByStatus[enums.SubscriptionStatusActive])
	}
	if len(report.Revenue) != 1 || report.Revenue[0].Currency != "BRL" {
		t.Fatalf("expected BRL revenue rollup, got %v", report.Revenue)
	}
	if report.ActivationSources["webhook"] != 10 {
		t.Fatalf("expected webhook source count, got %v", report.ActivationSources)
	}
	if report.Webhooks.FailureRatio != 0.05 {
		t.Fatalf("expected failure ratio 0.05, got %f", report.Webhooks.FailureRatio)
	}
	if report.Since.IsZero() || !report.Since.Before(report.GeneratedAt) {
		t.Fatalf("expected default window applied")
	}
}

func TestWebhookRollupEmptyCountsHasZeroRatio(t *testing.T) {
	rollup := webhookRollup(nil)
	if rollup.FailureRatio != 0 {
		t.Fatalf("expected zero ratio, got %f", rollup.FailureRatio)
	}
}
