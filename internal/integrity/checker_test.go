package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

type stubUsers struct {
	users map[uuid.UUID]*models.User
}

func (s *stubUsers) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return s.users[id], nil
}

type stubSubscriptions struct {
	byUser  map[uuid.UUID][]models.Subscription
	billing map[uuid.UUID]int64
}

func (s *stubSubscriptions) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	return s.byUser[userID], nil
}

func (s *stubSubscriptions) CountBillingHistory(_ context.Context, subscriptionID uuid.UUID) (int64, error) {
	return s.billing[subscriptionID], nil
}

type stubWebhookLogs struct {
	count int64
}

func (s *stubWebhookLogs) CountBySubscriptionIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.count, nil
}

type checkerFixture struct {
	users   *stubUsers
	subs    *stubSubscriptions
	logs    *stubWebhookLogs
	checker *Checker
	userID  uuid.UUID
	subID   uuid.UUID
}

// newHealthyFixture builds a user whose data passes every check.
func newHealthyFixture(t *testing.T) *checkerFixture {
	t.Helper()
	userID := uuid.New()
	subID := uuid.New()
	providerID := "pre_123"
	next := time.Now().UTC().AddDate(0, 1, 0)

	f := &checkerFixture{
		userID: userID,
		subID:  subID,
		users: &stubUsers{users: map[uuid.UUID]*models.User{
			userID: {ID: userID, Email: "buyer@example.com", HasActiveSubscription: true},
		}},
		subs: &stubSubscriptions{
			byUser: map[uuid.UUID][]models.Subscription{
				userID: {{
					ID:                     subID,
					UserID:                 userID,
					ExternalReference:      "SUB-u1a2b3c4-p73-ab12cd34",
					ProviderSubscriptionID: &providerID,
					Status:                 enums.SubscriptionStatusActive,
					NextBillingDate:        &next,
					CreatedAt:              time.Now().UTC().Add(-time.Hour),
				}},
			},
			billing: map[uuid.UUID]int64{subID: 1},
		},
		logs: &stubWebhookLogs{count: 1},
	}
	checker, err := NewChecker(CheckerParams{
		Users:         f.users,
		Subscriptions: f.subs,
		WebhookLogs:   f.logs,
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	f.checker = checker
	return f
}

func TestCheckUserFullyConsistentScoresHundred(t *testing.T) {
	f := newHealthyFixture(t)

	result, err := f.checker.CheckUser(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Score != 100 {
		t.Fatalf("expected score 100, got %d (issues: %v)", result.Score, result.Issues)
	}
	if result.Status != enums.IntegrityStatusHealthy {
		t.Fatalf("expected healthy, got %s", result.Status)
	}
	if len(result.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", result.Issues)
	}
}

func TestCheckUserMissingBillingHistoryDropsExactlyTen(t *testing.T) {
	f := newHealthyFixture(t)
	f.subs.billing[f.subID] = 0

	result, err := f.checker.CheckUser(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Score != 90 {
		t.Fatalf("expected score 90, got %d", result.Score)
	}
	if result.Status == enums.IntegrityStatusHealthy {
		t.Fatalf("a flagged issue must cap the grade below healthy")
	}
	if len(result.Recommendations) == 0 {
		t.Fatalf("expected a remediation recommendation")
	}
}

func TestCheckUserProfileFlagDisagreement(t *testing.T) {
	f := newHealthyFixture(t)
	f.users.users[f.userID].HasActiveSubscription = false

	result, err := f.checker.CheckUser(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Score != 80 {
		t.Fatalf("expected score 80, got %d", result.Score)
	}
	if result.Status != enums.IntegrityStatusWarning {
		t.Fatalf("expected warning, got %s", result.Status)
	}
}

func TestCheckUserNoSubscriptionsIsCritical(t *testing.T) {
	f := newHealthyFixture(t)
	f.subs.byUser[f.userID] = nil
	f.users.users[f.userID].HasActiveSubscription = false
	f.logs.count = 0

	result, err := f.checker.CheckUser(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// Profile flag, linkage, dates, billing and pending hygiene pass
	// vacuously; active existence and webhook evidence fail.
	if result.Score != 65 {
		t.Fatalf("expected score 65, got %d", result.Score)
	}
	if result.Status != enums.IntegrityStatusWarning {
		t.Fatalf("expected warning, got %s", result.Status)
	}
}

func TestCheckUserStalePendingFailsHygiene(t *testing.T) {
	f := newHealthyFixture(t)
	f.subs.byUser[f.userID] = append(f.subs.byUser[f.userID], models.Subscription{
		ID:                uuid.New(),
		UserID:            f.userID,
		ExternalReference: "SUB-u1a2b3c4-p74-00ff11aa",
		Status:            enums.SubscriptionStatusPending,
		CreatedAt:         time.Now().UTC().Add(-48 * time.Hour),
	})

	result, err := f.checker.CheckUser(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Score != 95 {
		t.Fatalf("expected score 95, got %d", result.Score)
	}
	if result.Status != enums.IntegrityStatusWarning {
		t.Fatalf("expected warning, got %s", result.Status)
	}
}

func TestCheckUserFlagsProviderDivergenceWithoutMutating(t *testing.T) {
	f := newHealthyFixture(t)
	subs := f.subs.byUser[f.userID]
	if err := subs[0].EncodeMetadata(models.SubscriptionMetadata{LastProviderStatus: "cancelled"}); err != nil {
		t.Fatalf("encode metadata: %v", err)
	}
	f.subs.byUser[f.userID] = subs

	result, err := f.checker.CheckUser(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Score != 100 {
		t.Fatalf("divergence is advisory only, expected score 100, got %d", result.Score)
	}
	if result.Status != enums.IntegrityStatusWarning {
		t.Fatalf("expected warning for divergence, got %s", result.Status)
	}
	found := false
	for _, issue := range result.Issues {
		if issue == "provider last reported cancelled for a locally active subscription" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected divergence issue, got %v", result.Issues)
	}
}

func TestCheckUserUnknownUser(t *testing.T) {
	f := newHealthyFixture(t)

	if _, err := f.checker.CheckUser(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}

func TestCheckBatchAggregates(t *testing.T) {
	f := newHealthyFixture(t)
	brokenID := uuid.New()
	f.users.users[brokenID] = &models.User{ID: brokenID, Email: "other@example.com", HasActiveSubscription: true}

	batch, err := f.checker.CheckBatch(context.Background(), []uuid.UUID{f.userID, brokenID, uuid.New()})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Summary.Total != 2 {
		t.Fatalf("expected 2 audited users, got %d", batch.Summary.Total)
	}
	if batch.Summary.CountsByStatus[enums.IntegrityStatusHealthy] != 1 {
		t.Fatalf("expected one healthy user, got %v", batch.Summary.CountsByStatus)
	}
	if len(batch.Summary.TopIssues) == 0 {
		t.Fatalf("expected recurring issues ranked")
	}
	if batch.Summary.AverageScore <= 0 {
		t.Fatalf("expected positive average score")
	}
}
