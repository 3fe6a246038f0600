package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/internal/matcher"
	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
	"github.com/verdeviva/verdeviva-backend/internal/subscriptions"
	"github.com/verdeviva/verdeviva-backend/internal/webhooklog"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
	"github.com/verdeviva/verdeviva-backend/pkg/metrics"
	mp "github.com/verdeviva/verdeviva-backend/pkg/mercadopago"
)

// Outcome classifies how a notification was handled. Every outcome is an
// acknowledged delivery; the provider never sees a retryable status for a
// notification the engine has logged.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Result reports the handling of a single notification.
type Result struct {
	Outcome        Outcome             `json:"outcome"`
	SubscriptionID *uuid.UUID          `json:"subscription_id,omitempty"`
	Strategy       enums.MatchStrategy `json:"strategy,omitempty"`
	Reason         string              `json:"reason,omitempty"`
}

type providerClient interface {
	GetPayment(ctx context.Context, paymentID string) (*mp.Payment, error)
	GetPreapproval(ctx context.Context, preapprovalID string) (*mp.Preapproval, error)
}

type resolver interface {
	Resolve(ctx context.Context, pc matcher.PaymentContext) (*matcher.Match, error)
}

type activator interface {
	Activate(ctx context.Context, params subscriptions.ActivateParams) (*models.Subscription, error)
	RecordProviderStatus(ctx context.Context, subscriptionID uuid.UUID, status string, syncedAt time.Time) error
}

type backstop interface {
	Reconcile(ctx context.Context, req reconciler.Request) (*reconciler.Result, error)
}

// ServiceParams wires the webhook processing dependencies. Backstop and
// Metrics are optional.
type ServiceParams struct {
	Logs      webhooklog.Repository
	Provider  providerClient
	Matcher   resolver
	Activator activator
	Backstop  backstop
	Metrics   *metrics.WebhookMetrics
	Logger    *logger.Logger
}

// Service turns provider notifications into subscription state changes. The
// webhook log row is the idempotency gate; everything after the insert is
// best effort and converges through the reconciliation sweep.
type Service struct {
	logs      webhooklog.Repository
	provider  providerClient
	matcher   resolver
	activator activator
	backstop  backstop
	metrics   *metrics.WebhookMetrics
	logg      *logger.Logger
}

// NewService validates dependencies and returns the webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook log repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider client required")
	}
	if params.Matcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "matcher required")
	}
	if params.Activator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activator required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		logs:      params.Logs,
		provider:  params.Provider,
		matcher:   params.Matcher,
		activator: params.Activator,
		backstop:  params.Backstop,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// Process handles one notification delivery. The log insert decides
// idempotency: a duplicate notification id short-circuits before any
// provider call or state change.
func (s *Service) Process(ctx context.Context, n Notification, payload []byte) (*Result, error) {
	if err := n.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification")
	}

	logRow := &models.WebhookLog{
		NotificationID: n.NotificationID(),
		EventType:      n.Type,
		Action:         n.Action,
		ResourceID:     n.Data.ID,
		Payload:        payload,
		Status:         enums.WebhookLogStatusReceived,
	}
	inserted, err := s.logs.InsertIfAbsent(ctx, logRow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook log")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"notification_id": logRow.NotificationID,
		"event_type":      n.Type,
		"resource_id":     n.Data.ID,
	})

	if !inserted {
		s.metrics.IncDuplicate(n.Type)
		s.logg.Info(logCtx, "duplicate notification acknowledged")
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	switch n.Type {
	case EventTypePayment:
		return s.processPayment(logCtx, logRow, n)
	case EventTypePreapproval, "preapproval":
		return s.processPreapproval(logCtx, logRow, n)
	default:
		s.markProcessed(logCtx, logRow.ID, nil)
		s.logg.Info(logCtx, "unhandled event type acknowledged")
		return &Result{Outcome: OutcomeIgnored, Reason: fmt.Sprintf("event type %q is not handled", n.Type)}, nil
	}
}

func (s *Service) processPayment(ctx context.Context, logRow *models.WebhookLog, n Notification) (*Result, error) {
	payment, err := s.provider.GetPayment(ctx, n.Data.ID)
	if err != nil {
		return s.deferred(ctx, logRow, n.Type, "payment lookup failed: "+err.Error()), nil
	}

	if !payment.Approved() {
		s.markProcessed(ctx, logRow.ID, nil)
		s.metrics.IncProcessed(n.Type)
		s.logg.Info(s.logg.WithField(ctx, "payment_status", payment.Status), "non-approval payment acknowledged")
		return &Result{Outcome: OutcomeIgnored, Reason: fmt.Sprintf("payment status is %s", payment.Status)}, nil
	}

	match, err := s.resolve(ctx, paymentContext(payment), reconciler.Request{
		PaymentID:         n.Data.ID,
		ExternalReference: payment.ExternalReference,
	})
	if err != nil {
		if isMatchMiss(err) {
			return s.deferred(ctx, logRow, n.Type, err.Error()), nil
		}
		return s.failed(ctx, logRow, n.Type, err)
	}
	if match.Subscription != nil && match.preResolved {
		// The backstop already activated inside its own transaction.
		subID := match.Subscription.ID
		s.markProcessed(ctx, logRow.ID, &subID)
		s.metrics.IncProcessed(n.Type)
		return &Result{Outcome: OutcomeProcessed, SubscriptionID: &subID, Strategy: match.Strategy}, nil
	}

	billingDate := payment.DateCreated
	if payment.DateApproved != nil {
		billingDate = *payment.DateApproved
	}
	sub, err := s.activator.Activate(ctx, subscriptions.ActivateParams{
		SubscriptionID:         match.Subscription.ID,
		ProviderPaymentID:      fmt.Sprint(payment.ID),
		PaymentStatus:          enums.PaymentStatus(payment.Status),
		Amount:                 payment.TransactionAmount,
		Currency:               payment.CurrencyID,
		BillingDate:            billingDate,
		ProviderSubscriptionID: payment.PreapprovalID(),
		NotificationID:         n.NotificationID(),
		ExternalReference:      payment.ExternalReference,
		Source:                 enums.ActivationSourceWebhook,
		Strategy:               match.Strategy,
	})
	if err != nil {
		return s.failed(ctx, logRow, n.Type, err)
	}

	s.markProcessed(ctx, logRow.ID, &sub.ID)
	s.metrics.IncProcessed(n.Type)
	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "payment notification processed")
	return &Result{Outcome: OutcomeProcessed, SubscriptionID: &sub.ID, Strategy: match.Strategy}, nil
}

func (s *Service) processPreapproval(ctx context.Context, logRow *models.WebhookLog, n Notification) (*Result, error) {
	preapproval, err := s.provider.GetPreapproval(ctx, n.Data.ID)
	if err != nil {
		return s.deferred(ctx, logRow, n.Type, "preapproval lookup failed: "+err.Error()), nil
	}

	match, err := s.resolve(ctx, matcher.PaymentContext{
		ExternalReference:      preapproval.ExternalReference,
		ProviderSubscriptionID: preapproval.ID,
		PayerEmail:             preapproval.PayerEmail,
		EventTime:              preapproval.DateCreated,
	}, reconciler.Request{ExternalReference: preapproval.ExternalReference})
	if err != nil {
		if isMatchMiss(err) {
			return s.deferred(ctx, logRow, n.Type, err.Error()), nil
		}
		return s.failed(ctx, logRow, n.Type, err)
	}
	subID := match.Subscription.ID
	if match.preResolved {
		s.markProcessed(ctx, logRow.ID, &subID)
		s.metrics.IncProcessed(n.Type)
		return &Result{Outcome: OutcomeProcessed, SubscriptionID: &subID, Strategy: match.Strategy}, nil
	}

	if !preapproval.Authorized() {
		// Pause and cancel originate locally; a provider echo of those
		// states is recorded on the subscription but never applied back.
		// The integrity checker flags the divergence from there.
		if preapproval.Status == mp.PreapprovalStatusPaused || preapproval.Status == mp.PreapprovalStatusCancelled {
			if err := s.activator.RecordProviderStatus(ctx, subID, preapproval.Status, time.Now().UTC()); err != nil {
				s.logg.Warn(ctx, "record provider status failed: "+err.Error())
			}
		}
		s.markProcessed(ctx, logRow.ID, &subID)
		s.metrics.IncProcessed(n.Type)
		s.logg.Info(s.logg.WithField(ctx, "preapproval_status", preapproval.Status), "preapproval state recorded")
		return &Result{
			Outcome:        OutcomeIgnored,
			SubscriptionID: &subID,
			Reason:         fmt.Sprintf("preapproval status %s requires no action", preapproval.Status),
		}, nil
	}

	sub, err := s.activator.Activate(ctx, subscriptions.ActivateParams{
		SubscriptionID:         subID,
		PaymentStatus:          enums.PaymentStatusAuthorized,
		BillingDate:            defaultTime(preapproval.NextPaymentDate, time.Now().UTC()),
		ProviderSubscriptionID: preapproval.ID,
		NotificationID:         n.NotificationID(),
		ExternalReference:      preapproval.ExternalReference,
		Source:                 enums.ActivationSourceWebhook,
		Strategy:               match.Strategy,
	})
	if err != nil {
		return s.failed(ctx, logRow, n.Type, err)
	}

	s.markProcessed(ctx, logRow.ID, &sub.ID)
	s.metrics.IncProcessed(n.Type)
	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "preapproval notification processed")
	return &Result{Outcome: OutcomeProcessed, SubscriptionID: &sub.ID, Strategy: match.Strategy}, nil
}

// Replay re-runs a deferred delivery under a fresh log row. The original
// row is marked failed with a superseded note so the sweep never picks it
// up again; the retry row carries the outcome from here on.
func (s *Service) Replay(ctx context.Context, original *models.WebhookLog) (*Result, error) {
	var n Notification
	if err := json.Unmarshal(original.Payload, &n); err != nil {
		if markErr := s.logs.MarkFailed(ctx, original.ID, "stored payload is not a valid notification"); markErr != nil {
			s.logg.Warn(ctx, "mark failed failed: "+markErr.Error())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stored payload")
	}
	if err := n.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stored notification")
	}

	retryNotificationID := original.NotificationID + ":retry:" + uuid.NewString()[:8]
	retry, err := s.logs.CreateRetry(ctx, original, retryNotificationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create retry log")
	}
	if err := s.logs.MarkFailed(ctx, original.ID, "superseded by retry "+retryNotificationID); err != nil {
		s.logg.Warn(ctx, "mark superseded failed: "+err.Error())
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"notification_id": retryNotificationID,
		"retry_of":        original.ID.String(),
		"event_type":      n.Type,
	})

	switch n.Type {
	case EventTypePayment:
		return s.processPayment(logCtx, retry, n)
	case EventTypePreapproval, "preapproval":
		return s.processPreapproval(logCtx, retry, n)
	default:
		s.markProcessed(logCtx, retry.ID, nil)
		return &Result{Outcome: OutcomeIgnored, Reason: fmt.Sprintf("event type %q is not handled", n.Type)}, nil
	}
}

// resolvedMatch augments a matcher result with whether the backstop already
// completed the activation.
type resolvedMatch struct {
	Subscription *models.Subscription
	Strategy     enums.MatchStrategy
	preResolved  bool
}

func (s *Service) resolve(ctx context.Context, pc matcher.PaymentContext, backstopReq reconciler.Request) (*resolvedMatch, error) {
	match, err := s.matcher.Resolve(ctx, pc)
	if err == nil {
		s.metrics.IncMatch(match.Strategy.String())
		return &resolvedMatch{Subscription: match.Subscription, Strategy: match.Strategy}, nil
	}
	if !errors.Is(err, matcher.ErrNotFound) || s.backstop == nil {
		return nil, err
	}

	// Matching came up empty; ask the reconciler to settle it against the
	// provider before deferring.
	result, rerr := s.backstop.Reconcile(ctx, backstopReq)
	if rerr != nil {
		s.logg.Warn(ctx, "reconciliation backstop failed: "+rerr.Error())
		return nil, err
	}
	switch result.Outcome {
	case reconciler.OutcomeActivated, reconciler.OutcomeAlreadyActive:
		return &resolvedMatch{
			Subscription: result.Subscription,
			Strategy:     result.Strategy,
			preResolved:  true,
		}, nil
	default:
		return nil, err
	}
}

func (s *Service) deferred(ctx context.Context, logRow *models.WebhookLog, eventType, reason string) *Result {
	if err := s.logs.MarkDeferred(ctx, logRow.ID, reason); err != nil {
		s.logg.Warn(ctx, "mark deferred failed: "+err.Error())
	}
	s.metrics.IncDeferred(eventType)
	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "notification deferred")
	return &Result{Outcome: OutcomeDeferred, Reason: reason}
}

func (s *Service) failed(ctx context.Context, logRow *models.WebhookLog, eventType string, cause error) (*Result, error) {
	if err := s.logs.MarkFailed(ctx, logRow.ID, cause.Error()); err != nil {
		s.logg.Warn(ctx, "mark failed failed: "+err.Error())
	}
	s.metrics.IncFailed(eventType)
	s.logg.Error(ctx, "notification processing failed", cause)
	return &Result{Outcome: OutcomeFailed, Reason: cause.Error()}, cause
}

func (s *Service) markProcessed(ctx context.Context, id uuid.UUID, subscriptionID *uuid.UUID) {
	if err := s.logs.MarkProcessed(ctx, id, subscriptionID); err != nil {
		s.logg.Warn(ctx, "mark processed failed: "+err.Error())
	}
}

func isMatchMiss(err error) bool {
	return errors.Is(err, matcher.ErrNotFound) || errors.Is(err, matcher.ErrAmbiguous)
}

func paymentContext(payment *mp.Payment) matcher.PaymentContext {
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

func defaultTime(value *time.Time, fallback time.Time) time.Time {
	if value != nil && !value.IsZero() {
		return *value
	}
	return fallback
}
