package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/verdeviva/verdeviva-backend/internal/matcher"
	"github.com/verdeviva/verdeviva-backend/internal/subscriptions"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
	"github.com/verdeviva/verdeviva-backend/pkg/mercadopago"
)

// Outcome classifies a reconciliation attempt. Everything short of a local
// persistence failure is a normal outcome, not an error.
type Outcome string

const (
	OutcomeActivated     Outcome = "activated"
	OutcomeAlreadyActive Outcome = "already_active"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeNotApproved   Outcome = "not_approved"
	OutcomeNotEligible   Outcome = "not_eligible"
)

// Request identifies the subscription to reconcile by whichever weak
// identifier the caller has. Identifiers are tried in declaration order.
type Request struct {
	SubscriptionID    uuid.UUID
	ExternalReference string
	PaymentID         string
	UserID            uuid.UUID
	Force             bool
	Reason            string
}

func (r Request) empty() bool {
	return r.SubscriptionID == uuid.Nil && r.ExternalReference == "" && r.PaymentID == "" && r.UserID == uuid.Nil
}

// Result is the structured reconciliation response.
type Result struct {
	Outcome      Outcome              `json:"outcome"`
	Reason       string               `json:"reason,omitempty"`
	Strategy     enums.MatchStrategy  `json:"strategy,omitempty"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

type providerClient interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
	GetPreapproval(ctx context.Context, preapprovalID string) (*mercadopago.Preapproval, error)
	SearchPreapprovals(ctx context.Context, externalReference string) ([]mercadopago.Preapproval, error)
}

type activator interface {
	Activate(ctx context.Context, params subscriptions.ActivateParams) (*models.Subscription, error)
}

type resolver interface {
	Resolve(ctx context.Context, pc matcher.PaymentContext) (*matcher.Match, error)
}

type subscriptionLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByExternalReference(ctx context.Context, ref string) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Subscription, error)
}

// ServiceParams wires the reconciler dependencies.
type ServiceParams struct {
	Lookup      subscriptionLookup
	Matcher     resolver
	Provider    providerClient
	Activator   activator
	Logger      *logger.Logger
	MinAge      time.Duration
	BatchLimit  int
	Concurrency int
}

// Service re-derives subscription state from the provider for records
// suspected stale. Provider calls always happen outside any local
// transaction; only the final activate takes a lock.
type Service struct {
	lookup      subscriptionLookup
	matcher     resolver
	provider    providerClient
	activator   activator
	logg        *logger.Logger
	minAge      time.Duration
	batchLimit  int
	concurrency int
}

// NewService validates dependencies and returns the reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Lookup == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription lookup required")
	}
	if params.Matcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "matcher required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider client required")
	}
	if params.Activator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activator required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	batchLimit := params.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 100
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		lookup:      params.Lookup,
		matcher:     params.Matcher,
		provider:    params.Provider,
		activator:   params.Activator,
		logg:        params.Logger,
		minAge:      minAge,
		batchLimit:  batchLimit,
		concurrency: concurrency,
	}, nil
}

// Reconcile locates the best-candidate pending subscription for the request
// and activates it when the provider reports an approved state.
func (s *Service) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if req.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one identifier required")
	}
	if req.Force && req.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "forced reconciliation requires a reason")
	}

	sub, strategy, err := s.locate(ctx, req)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &Result{Outcome: OutcomeNotFound, Reason: "no candidate subscription"}, nil
	}

	logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())

	switch sub.Status {
	case enums.SubscriptionStatusActive:
		return &Result{Outcome: OutcomeAlreadyActive, Subscription: sub}, nil
	case enums.SubscriptionStatusCancelled, enums.SubscriptionStatusPaused:
		return &Result{
			Outcome: OutcomeNotEligible,
			Reason:  fmt.Sprintf("subscription is %s", sub.Status),
		}, nil
	}

	evidence, ok := s.collectApproval(logCtx, sub, req.PaymentID)
	if !ok && !req.Force {
		reason := "provider has not approved this subscription yet"
		if evidence.reason != "" {
			reason = evidence.reason
		}
		return &Result{Outcome: OutcomeNotApproved, Reason: reason, Subscription: sub}, nil
	}

	activated, err := s.activator.Activate(ctx, subscriptions.ActivateParams{
		SubscriptionID:         sub.ID,
		ProviderPaymentID:      evidence.paymentID,
		PaymentStatus:          evidence.paymentStatus,
		Amount:                 evidence.amount,
		Currency:               evidence.currency,
		BillingDate:            evidence.billingDate,
		ProviderSubscriptionID: evidence.preapprovalID,
		ExternalReference:      evidence.externalReference,
		Source:                 enums.ActivationSourceReconciler,
		Strategy:               strategy,
		Force:                  req.Force,
		Reason:                 req.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeActivated, Strategy: strategy, Subscription: activated}, nil
}

// SweepStats summarizes one scheduled sweep run.
type SweepStats struct {
	Scanned     int
	Activated   int
	NotApproved int
	Failed      int
}

// SweepOnce scans subscriptions stuck in pending past the age threshold and
// attempts activation for each with bounded parallelism. One bad record
// cannot abort the run; failures are aggregated and reported at the end.
func (s *Service) SweepOnce(ctx context.Context) (SweepStats, error) {
	cutoff := time.Now().UTC().Add(-s.minAge)
	stuck, err := s.lookup.ListStuckPending(ctx, cutoff, s.batchLimit)
	if err != nil {
		return SweepStats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stuck pending")
	}

	stats := SweepStats{Scanned: len(stuck)}
	if len(stuck) == 0 {
		return stats, nil
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		errs  error
		slots = make(chan struct{}, s.concurrency)
	)

	for _, candidate := range stuck {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		slots <- struct{}{}
		go func(sub models.Subscription) {
			defer wg.Done()
			defer func() { <-slots }()

			result, err := s.Reconcile(ctx, Request{SubscriptionID: sub.ID})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
				return
			}
			switch result.Outcome {
			case OutcomeActivated:
				stats.Activated++
			default:
				stats.NotApproved++
			}
		}(candidate)
	}
	wg.Wait()

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"scanned":      stats.Scanned,
		"activated":    stats.Activated,
		"not_approved": stats.NotApproved,
		"failed":       stats.Failed,
	})
	s.logg.Info(logCtx, "pending activation sweep finished")

	return stats, errs
}

func (s *Service) locate(ctx context.Context, req Request) (*models.Subscription, enums.MatchStrategy, error) {
	if req.SubscriptionID != uuid.Nil {
		sub, err := s.lookup.FindByID(ctx, req.SubscriptionID)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		return sub, "", nil
	}

	if req.ExternalReference != "" {
		sub, err := s.lookup.FindByExternalReference(ctx, req.ExternalReference)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by reference")
		}
		if sub != nil {
			return sub, enums.MatchStrategyExternalReference, nil
		}
	}

	if req.PaymentID != "" {
		payment, err := s.provider.GetPayment(ctx, req.PaymentID)
		if err != nil {
			// Provider trouble is "not yet ready", not a failure.
			s.logg.Warn(s.logg.WithField(ctx, "payment_id", req.PaymentID), "payment lookup failed: "+err.Error())
			return nil, "", nil
		}
		match, err := s.matcher.Resolve(ctx, paymentContext(payment))
		if err != nil {
			if errors.Is(err, matcher.ErrNotFound) || errors.Is(err, matcher.ErrAmbiguous) {
				return nil, "", nil
			}
			return nil, "", err
		}
		return match.Subscription, match.Strategy, nil
	}

	if req.UserID != uuid.Nil {
		subs, err := s.lookup.ListByUser(ctx, req.UserID)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list user subscriptions")
		}
		var newest *models.Subscription
		for i := range subs {
			if subs[i].Status != enums.SubscriptionStatusPending {
				continue
			}
			if newest == nil || subs[i].CreatedAt.After(newest.CreatedAt) {
				newest = &subs[i]
			}
		}
		return newest, "", nil
	}

	return nil, "", nil
}

// approvalEvidence is whatever the provider offered as proof of approval.
type approvalEvidence struct {
	paymentID         string
	paymentStatus     enums.PaymentStatus
	amount            decimal.Decimal
	currency          string
	billingDate       time.Time
	preapprovalID     string
	externalReference string
	reason            string
}

// collectApproval queries the provider for the authoritative status. No
// local lock is held while these calls run.
func (s *Service) collectApproval(ctx context.Context, sub *models.Subscription, paymentID string) (evidence approvalEvidence, approved bool) {
	if paymentID != "" {
		payment, err := s.provider.GetPayment(ctx, paymentID)
		if err != nil {
			evidence.reason = "payment lookup failed"
			s.logg.Warn(ctx, "payment lookup failed: "+err.Error())
		} else if payment.Approved() {
			evidence.paymentID = fmt.Sprint(payment.ID)
			evidence.paymentStatus = enums.PaymentStatus(payment.Status)
			evidence.amount = payment.TransactionAmount
			evidence.currency = payment.CurrencyID
			if payment.DateApproved != nil {
				evidence.billingDate = *payment.DateApproved
			}
			evidence.preapprovalID = payment.PreapprovalID()
			evidence.externalReference = payment.ExternalReference
			return evidence, true
		} else {
			evidence.reason = fmt.Sprintf("payment status is %s", payment.Status)
		}
	}

	if sub.ProviderSubscriptionID != nil {
		preapproval, err := s.provider.GetPreapproval(ctx, *sub.ProviderSubscriptionID)
		if err != nil {
			evidence.reason = "preapproval lookup failed"
			s.logg.Warn(ctx, "preapproval lookup failed: "+err.Error())
			return evidence, false
		}
		if preapproval.Authorized() {
			evidence.paymentStatus = enums.PaymentStatusAuthorized
			evidence.preapprovalID = preapproval.ID
			evidence.externalReference = preapproval.ExternalReference
			return evidence, true
		}
		evidence.reason = fmt.Sprintf("preapproval status is %s", preapproval.Status)
		return evidence, false
	}

	results, err := s.provider.SearchPreapprovals(ctx, sub.ExternalReference)
	if err != nil {
		evidence.reason = "preapproval search failed"
		s.logg.Warn(ctx, "preapproval search failed: "+err.Error())
		return evidence, false
	}
	for _, preapproval := range results {
		if preapproval.Authorized() {
			evidence.paymentStatus = enums.PaymentStatusAuthorized
			evidence.preapprovalID = preapproval.ID
			evidence.externalReference = preapproval.ExternalReference
			return evidence, true
		}
	}
	if len(results) == 0 {
		evidence.reason = "no preapproval found for external reference"
	} else {
		evidence.reason = "no authorized preapproval for external reference"
	}
	return evidence, false
}

func paymentContext(payment *mercadopago.Payment) matcher.PaymentContext {
	pc := matcher.PaymentContext{
		ExternalReference:      payment.ExternalReference,
		ProviderSubscriptionID: payment.PreapprovalID(),
		PayerEmail:             payment.Payer.Email,
		EventTime:              payment.DateCreated,
	}
	if payment.Metadata != nil {
		if raw, ok := payment.Metadata["user_id"].(string); ok {
			if id, err := uuid.Parse(raw); err == nil {
				pc.UserID = id
			}
		}
		switch v := payment.Metadata["product_id"].(type) {
		case float64:
			pc.ProductID = int64(v)
		case string:
			var id int64
			if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
				pc.ProductID = id
			}
		}
	}
	return pc
}
