package integrity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

// Check weights sum to 100. The score is the sum of the weights of the
// checks that pass.
const (
	weightActiveSubscription = 25
	weightProfileFlag        = 20
	weightReferenceLinkage   = 15
	weightValidDates         = 15
	weightWebhookEvidence    = 10
	weightBillingHistory     = 10
	weightPendingHygiene     = 5
)

// DefaultPendingAge is how long a pending record may sit before it counts
// against the pending hygiene check.
const DefaultPendingAge = 24 * time.Hour

// Check is one structural verification with its weighted contribution.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Weight int    `json:"weight"`
	Detail string `json:"detail,omitempty"`
}

// CheckResult is the per-user integrity report. Computed on demand, never
// persisted.
type CheckResult struct {
	UserID          uuid.UUID             `json:"user_id"`
	Score           int                   `json:"score"`
	Status          enums.IntegrityStatus `json:"status"`
	Checks          []Check               `json:"checks"`
	Issues          []string              `json:"issues,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	CheckedAt       time.Time             `json:"checked_at"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total          int                           `json:"total"`
	CountsByStatus map[enums.IntegrityStatus]int `json:"counts_by_status"`
	AverageScore   float64                       `json:"average_score"`
	TopIssues      []IssueCount                  `json:"top_issues,omitempty"`
}

// IssueCount ranks how often an issue recurred across a batch.
type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// BatchResult pairs per-user reports with the aggregate summary.
type BatchResult struct {
	Results []CheckResult `json:"results"`
	Summary BatchSummary  `json:"summary"`
}

type userLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type subscriptionLookup interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	CountBillingHistory(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
}

type webhookLookup interface {
	CountBySubscriptionIDs(ctx context.Context, subscriptionIDs []uuid.UUID) (int64, error)
}

// CheckerParams wires the checker dependencies.
type CheckerParams struct {
	Users         userLookup
	Subscriptions subscriptionLookup
	WebhookLogs   webhookLookup
	Logger        *logger.Logger
	PendingAge    time.Duration
}

// Checker audits cross-table consistency for a user's subscription data.
// It is purely diagnostic and never mutates anything.
type Checker struct {
	users         userLookup
	subscriptions subscriptionLookup
	webhookLogs   webhookLookup
	logg          *logger.Logger
	pendingAge    time.Duration
}

// NewChecker validates dependencies and returns the checker.
func NewChecker(params CheckerParams) (*Checker, error) {
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user lookup required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription lookup required")
	}
	if params.WebhookLogs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook log lookup required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	pendingAge := params.PendingAge
	if pendingAge <= 0 {
		pendingAge = DefaultPendingAge
	}
	return &Checker{
		users:         params.Users,
		subscriptions: params.Subscriptions,
		webhookLogs:   params.WebhookLogs,
		logg:          params.Logger,
		pendingAge:    pendingAge,
	}, nil
}

// CheckUser runs all checks for one user and scores the outcome. A score of
// 80 or above with a clean issue list grades healthy; any issue caps the
// grade at warning regardless of score.
func (c *Checker) CheckUser(ctx context.Context, userID uuid.UUID) (*CheckResult, error) {
	user, err := c.users.FindByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	subs, err := c.subscriptions.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}

	result := &CheckResult{
		UserID:    userID,
		CheckedAt: time.Now().UTC(),
	}

	var active, pending []models.Subscription
	subIDs := make([]uuid.UUID, 0, len(subs))
	for i := range subs {
		subIDs = append(subIDs, subs[i].ID)
		switch subs[i].Status {
		case enums.SubscriptionStatusActive:
			active = append(active, subs[i])
		case enums.SubscriptionStatusPending:
			pending = append(pending, subs[i])
		}
	}

	c.checkActiveExists(result, active, pending)
	c.checkProfileFlag(result, user, len(active))
	c.checkReferenceLinkage(result, active)
	c.checkValidDates(result, active)
	c.checkWebhookEvidence(ctx, result, subIDs)
	c.checkBillingHistory(ctx, result, active)
	c.checkPendingHygiene(result, pending)
	c.flagProviderDivergence(result, active)

	for _, check := range result.Checks {
		if check.Passed {
			result.Score += check.Weight
		}
	}
	result.Status = enums.IntegrityStatusForScore(result.Score)
	if result.Status == enums.IntegrityStatusHealthy && len(result.Issues) > 0 {
		result.Status = enums.IntegrityStatusWarning
	}
	return result, nil
}

// CheckBatch runs CheckUser for each id and aggregates. Users that fail to
// load are skipped with a warning rather than failing the batch.
func (c *Checker) CheckBatch(ctx context.Context, userIDs []uuid.UUID) (*BatchResult, error) {
	if len(userIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one user id required")
	}

	batch := &BatchResult{
		Summary: BatchSummary{CountsByStatus: map[enums.IntegrityStatus]int{}},
	}
	issueCounts := map[string]int{}
	var totalScore int

	for _, userID := range userIDs {
		result, err := c.CheckUser(ctx, userID)
		if err != nil {
			c.logg.Warn(c.logg.WithUserID(ctx, userID.String()), "integrity check skipped: "+err.Error())
			continue
		}
		batch.Results = append(batch.Results, *result)
		batch.Summary.CountsByStatus[result.Status]++
		totalScore += result.Score
		for _, issue := range result.Issues {
			issueCounts[issue]++
		}
	}

	batch.Summary.Total = len(batch.Results)
	if batch.Summary.Total > 0 {
		batch.Summary.AverageScore = float64(totalScore) / float64(batch.Summary.Total)
	}
	for issue, count := range issueCounts {
		batch.Summary.TopIssues = append(batch.Summary.TopIssues, IssueCount{Issue: issue, Count: count})
	}
	sort.Slice(batch.Summary.TopIssues, func(i, j int) bool {
		if batch.Summary.TopIssues[i].Count != batch.Summary.TopIssues[j].Count {
			return batch.Summary.TopIssues[i].Count > batch.Summary.TopIssues[j].Count
		}
		return batch.Summary.TopIssues[i].Issue < batch.Summary.TopIssues[j].Issue
	})
	if len(batch.Summary.TopIssues) > 5 {
		batch.Summary.TopIssues = batch.Summary.TopIssues[:5]
	}
	return batch, nil
}

func (c *Checker) checkActiveExists(result *CheckResult, active, pending []models.Subscription) {
	check := Check{Name: "active_subscription", Weight: weightActiveSubscription, Passed: len(active) > 0}
	if !check.Passed {
		check.Detail = "no active subscription on record"
		result.Issues = append(result.Issues, "user has no active subscription")
		if len(pending) > 0 {
			result.Recommendations = append(result.Recommendations, "run reconciliation for the pending subscription against the provider")
		} else {
			result.Recommendations = append(result.Recommendations, "verify whether the user completed checkout")
		}
	}
	result.Checks = append(result.Checks, check)
}

func (c *Checker) checkProfileFlag(result *CheckResult, user *models.User, activeCount int) {
	consistent := user.HasActiveSubscription == (activeCount > 0)
	check := Check{Name: "profile_flag", Weight: weightProfileFlag, Passed: consistent}
	if !consistent {
		check.Detail = fmt.Sprintf("profile flag %t, active subscriptions %d", user.HasActiveSubscription, activeCount)
		result.Issues = append(result.Issues, "profile flag disagrees with subscription records")
		result.Recommendations = append(result.Recommendations, "recompute has_active_subscription from the subscriptions table")
	}
	result.Checks = append(result.Checks, check)
}

func (c *Checker) checkReferenceLinkage(result *CheckResult, active []models.Subscription) {
	check := Check{Name: "reference_linkage", Weight: weightReferenceLinkage, Passed: true}
	for i := range active {
		if active[i].ExternalReference == "" {
			check.Passed = false
			check.Detail = "active subscription missing external reference"
			result.Issues = append(result.Issues, "active subscription has no external reference")
			break
		}
		if active[i].ProviderSubscriptionID == nil || *active[i].ProviderSubscriptionID == "" {
			check.Passed = false
			check.Detail = "active subscription not linked to a provider agreement"
			result.Issues = append(result.Issues, "active subscription has no provider subscription id")
			result.Recommendations = append(result.Recommendations, "search provider preapprovals by external reference and link the agreement")
			break
		}
	}
	result.Checks = append(result.Checks, check)
}

func (c *Checker) checkValidDates(result *CheckResult, active []models.Subscription) {
	check := Check{Name: "valid_dates", Weight: weightValidDates, Passed: true}
	for i := range active {
		sub := &active[i]
		switch {
		case sub.NextBillingDate == nil:
			check.Passed = false
			check.Detail = "active subscription has no next billing date"
		case sub.NextBillingDate.Before(sub.CreatedAt):
			check.Passed = false
			check.Detail = "next billing date precedes creation"
		case sub.CancelledAt != nil:
			check.Passed = false
			check.Detail = "active subscription carries a cancellation timestamp"
		}
		if !check.Passed {
			result.Issues = append(result.Issues, "active subscription has an invalid date window")
			result.Recommendations = append(result.Recommendations, "recompute next_billing_date from the billing cadence")
			break
		}
	}
	result.Checks = append(result.Checks, check)
}

func (c *Checker) checkWebhookEvidence(ctx context.Context, result *CheckResult, subIDs []uuid.UUID) {
	check := Check{Name: "webhook_evidence", Weight: weightWebhookEvidence, Passed: true}
	count, err := c.webhookLogs.CountBySubscriptionIDs(ctx, subIDs)
	if err != nil {
		c.logg.Warn(ctx, "webhook evidence lookup failed: "+err.Error())
		check.Passed = false
		check.Detail = "webhook log lookup failed"
	} else if count == 0 {
		check.Passed = false
		check.Detail = "no webhook log references any subscription"
		result.Issues = append(result.Issues, "no webhook evidence for the user's subscriptions")
	}
	result.Checks = append(result.Checks, check)
}

func (c *Checker) checkBillingHistory(ctx context.Context, result *CheckResult, active []models.Subscription) {
	check := Check{Name: "billing_history", Weight: weightBillingHistory, Passed: true}
	for i := range active {
		count, err := c.subscriptions.CountBillingHistory(ctx, active[i].ID)
		if err != nil {
			c.logg.Warn(ctx, "billing history lookup failed: "+err.Error())
			check.Passed = false
			check.Detail = "billing history lookup failed"
			break
		}
		if count == 0 {
			check.Passed = false
			check.Detail = "active subscription has no billing history"
			result.Issues = append(result.Issues, "active subscription has no billing history entry")
			result.Recommendations = append(result.Recommendations, "reconcile the subscription to backfill the missing ledger row")
			break
		}
	}
	result.Checks = append(result.Checks, check)
}

func (c *Checker) checkPendingHygiene(result *CheckResult, pending []models.Subscription) {
	check := Check{Name: "pending_hygiene", Weight: weightPendingHygiene, Passed: true}
	cutoff := time.Now().UTC().Add(-c.pendingAge)
	for i := range pending {
		if pending[i].CreatedAt.Before(cutoff) {
			check.Passed = false
			check.Detail = fmt.Sprintf("pending subscription older than %s", c.pendingAge)
			result.Issues = append(result.Issues, "subscription stuck in pending past the age threshold")
			result.Recommendations = append(result.Recommendations, "let the reconciliation sweep retry or cancel the stale pending record")
			break
		}
	}
	result.Checks = append(result.Checks, check)
}

// flagProviderDivergence surfaces the case where the provider last reported
// a less-active state than the local record. No automatic downgrade happens;
// the report asks for manual confirmation.
func (c *Checker) flagProviderDivergence(result *CheckResult, active []models.Subscription) {
	for i := range active {
		meta, err := active[i].DecodeMetadata()
		if err != nil {
			continue
		}
		if meta.LastProviderStatus == "cancelled" || meta.LastProviderStatus == "paused" {
			result.Issues = append(result.Issues, fmt.Sprintf("provider last reported %s for a locally active subscription", meta.LastProviderStatus))
			result.Recommendations = append(result.Recommendations, "confirm the provider-side state manually before downgrading the local record")
		}
	}
}
