package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/verdeviva/verdeviva-backend/internal/users"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
	"github.com/verdeviva/verdeviva-backend/pkg/mercadopago"
	"github.com/verdeviva/verdeviva-backend/pkg/metrics"
	"github.com/verdeviva/verdeviva-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// notifier records and dispatches customer notifications. Failures are the
// notifier's problem; callers treat dispatch as fire-and-forget.
type notifier interface {
	Notify(ctx context.Context, kind enums.NotificationKind, sub *models.Subscription)
}

// providerMirror pushes local lifecycle changes to the provider. Mirror
// failures never block the local transition.
type providerMirror interface {
	UpdatePreapprovalStatus(ctx context.Context, preapprovalID string, status string) (*mercadopago.Preapproval, error)
}

// ServiceParams wires the subscription service dependencies.
type ServiceParams struct {
	Repo              Repository
	UserRepo          users.Repository
	TransactionRunner txRunner
	Logger            *logger.Logger
	Notifier          notifier
	Provider          providerMirror
	Metrics           *metrics.WebhookMetrics
}

// Service owns the subscription lifecycle state machine. Every transition
// revalidates the persisted status under a row lock so racing webhook and
// user actions cannot overwrite each other.
type Service struct {
	repo     Repository
	userRepo users.Repository
	txRunner txRunner
	logg     *logger.Logger
	notifier notifier
	provider providerMirror
	metrics  *metrics.WebhookMetrics
}

// NewService validates dependencies and returns the subscription service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:     params.Repo,
		userRepo: params.UserRepo,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
		notifier: params.Notifier,
		provider: params.Provider,
		metrics:  params.Metrics,
	}, nil
}

// Actor identifies who requested an operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

func (a Actor) canAccess(sub *models.Subscription) bool {
	return a.Role == enums.ActorRoleAdmin || sub.UserID == a.UserID
}

// CreateParams holds the data needed to open a pending subscription.
type CreateParams struct {
	UserID             uuid.UUID
	ProductID          int64
	Quantity           int
	BasePrice          decimal.Decimal
	DiscountPercentage decimal.Decimal
	Currency           string
	Frequency          int
	FrequencyUnit      enums.FrequencyUnit
	DeliveryAddress    *string
}

// Create opens a subscription in pending. The external reference minted here
// is the correlation key handed to the provider at checkout time.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Subscription, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if params.ProductID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if params.Quantity <= 0 {
		params.Quantity = 1
	}
	if params.Frequency <= 0 {
		params.Frequency = 1
	}
	if !params.FrequencyUnit.IsValid() {
		params.FrequencyUnit = enums.FrequencyUnitMonths
	}
	if params.Currency == "" {
		params.Currency = "ARS"
	}
	if params.BasePrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base price must not be negative")
	}
	if params.DiscountPercentage.IsNegative() || params.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount percentage out of range")
	}

	user, err := s.userRepo.FindByID(ctx, params.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	sub := &models.Subscription{
		UserID:             params.UserID,
		ExternalReference:  mintExternalReference(params.UserID, params.ProductID),
		Status:             enums.SubscriptionStatusPending,
		ProductID:          params.ProductID,
		Quantity:           params.Quantity,
		BasePrice:          params.BasePrice,
		DiscountPercentage: params.DiscountPercentage,
		TotalPrice:         computeTotalPrice(params.BasePrice, params.Quantity, params.DiscountPercentage),
		Currency:           params.Currency,
		Frequency:          params.Frequency,
		FrequencyUnit:      params.FrequencyUnit,
		CustomerEmail:      user.Email,
		CustomerName:       user.Name,
		DeliveryAddress:    params.DeliveryAddress,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return sub, nil
}

// ActivateParams describes an activation attempt.
type ActivateParams struct {
	SubscriptionID uuid.UUID
	// Payment fields are optional; a forced manual activation has none.
	ProviderPaymentID      string
	PaymentStatus          enums.PaymentStatus
	Amount                 decimal.Decimal
	Currency               string
	BillingDate            time.Time
	ProviderSubscriptionID string
	NotificationID         string
	// ExternalReference is the reference the provider reported on the payment.
	// When it diverges from the local one it is kept as an alternate so later
	// cycles of the same charge stream still resolve.
	ExternalReference string

	Source   enums.ActivationSource
	Strategy enums.MatchStrategy
	Force    bool
	Reason   string
}

// Activate drives pending to active, appending the ledger row in the same
// transaction. Replaying the same provider payment converges on a no-op
// through the ledger's unique constraint. A fresh payment landing on an
// already active subscription records the recurring charge instead.
func (s *Service) Activate(ctx context.Context, params ActivateParams) (*models.Subscription, error) {
	if params.SubscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	if params.Force && strings.TrimSpace(params.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "forced activation requires a reason")
	}
	if !params.Force && !params.PaymentStatus.IsApproval() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment status %q is not an approval", params.PaymentStatus))
	}
	if params.Source == "" {
		params.Source = enums.ActivationSourceWebhook
	}

	var result *models.Subscription
	var activated bool
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByIDForUpdate(ctx, params.SubscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}

		switch sub.Status {
		case enums.SubscriptionStatusCancelled:
			return transitionError(sub.Status, enums.SubscriptionStatusActive)
		case enums.SubscriptionStatusPaused:
			if !params.Force {
				return transitionError(sub.Status, enums.SubscriptionStatusActive)
			}
		}

		wasActive := sub.Status == enums.SubscriptionStatusActive

		inserted := false
		if params.ProviderPaymentID != "" {
			entry := &models.BillingHistoryEntry{
				SubscriptionID:    sub.ID,
				ProviderPaymentID: params.ProviderPaymentID,
				Amount:            params.Amount,
				Currency:          defaultString(params.Currency, sub.Currency),
				Status:            params.PaymentStatus,
				BillingDate:       defaultTime(params.BillingDate, time.Now().UTC()),
			}
			if err := entry.EncodeMetadata(models.BillingHistoryMetadata{
				Source:         params.Source,
				MatchStrategy:  params.Strategy,
				NotificationID: params.NotificationID,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode billing metadata")
			}
			inserted, err = repo.AppendBillingHistory(ctx, entry)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append billing history")
			}
		}

		if wasActive {
			// Idempotent replay: the ledger row already exists, nothing to do.
			if !inserted {
				result = sub
				return nil
			}
			sub.ChargesMade++
			base := time.Now().UTC()
			if sub.NextBillingDate != nil {
				base = *sub.NextBillingDate
			}
			next := nextBillingDate(base, sub.Frequency, sub.FrequencyUnit)
			sub.NextBillingDate = &next
			if err := s.recordAlternateReference(sub, params.ExternalReference); err != nil {
				return err
			}
			if err := repo.Update(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record recurring charge")
			}
			result = sub
			return nil
		}

		if params.ProviderSubscriptionID != "" && sub.ProviderSubscriptionID == nil {
			providerID := params.ProviderSubscriptionID
			sub.ProviderSubscriptionID = &providerID
		}

		meta, err := sub.DecodeMetadata()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode subscription metadata")
		}
		meta.ActivationSource = params.Source.String()
		meta.MatchStrategy = params.Strategy.String()
		meta.ActivationReason = params.Reason
		appendAlternateReference(&meta, sub.ExternalReference, params.ExternalReference)
		if err := sub.EncodeMetadata(meta); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode subscription metadata")
		}

		sub.Status = enums.SubscriptionStatusActive
		sub.ChargesMade++
		next := nextBillingDate(time.Now().UTC(), sub.Frequency, sub.FrequencyUnit)
		sub.NextBillingDate = &next
		sub.PausedAt = nil
		sub.PauseReason = nil

		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate subscription")
		}
		if err := s.userRepo.WithTx(tx).SetHasActiveSubscription(ctx, sub.UserID, true); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update profile flag")
		}

		activated = true
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated {
		s.metrics.IncActivation(params.Source.String())
		if params.Strategy != "" {
			s.metrics.IncMatch(params.Strategy.String())
		}
		s.dispatch(ctx, enums.NotificationKindSubscriptionActivated, result)
	}
	return result, nil
}

// RecordProviderStatus persists the status the provider last reported for a
// subscription without applying it locally. The integrity checker reads it to
// surface provider-side pauses and cancels that diverge from local state.
func (s *Service) RecordProviderStatus(ctx context.Context, subscriptionID uuid.UUID, status string, syncedAt time.Time) error {
	if subscriptionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	if status == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider status required")
	}
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByIDForUpdate(ctx, subscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		meta, err := sub.DecodeMetadata()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode subscription metadata")
		}
		meta.LastProviderStatus = status
		meta.LastSyncedAt = syncedAt.UTC()
		if err := sub.EncodeMetadata(meta); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode subscription metadata")
		}
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record provider status")
		}
		return nil
	})
}

// Pause moves an active subscription to paused. The provider-side pause is
// mirrored after commit and its failure only logs.
func (s *Service) Pause(ctx context.Context, actor Actor, subscriptionID uuid.UUID, reason string) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.loadOwned(ctx, repo, actor, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusActive {
			return transitionError(sub.Status, enums.SubscriptionStatusPaused)
		}

		now := time.Now().UTC()
		sub.Status = enums.SubscriptionStatusPaused
		sub.PausedAt = &now
		if reason != "" {
			sub.PauseReason = &reason
		}
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pause subscription")
		}
		if err := s.refreshProfileFlag(ctx, tx, sub.UserID); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorProviderStatus(ctx, result, mercadopago.PreapprovalStatusPaused)
	s.dispatch(ctx, enums.NotificationKindSubscriptionPaused, result)
	return result, nil
}

// Resume moves a paused subscription back to active with a fresh billing date.
func (s *Service) Resume(ctx context.Context, actor Actor, subscriptionID uuid.UUID) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.loadOwned(ctx, repo, actor, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusPaused {
			return transitionError(sub.Status, enums.SubscriptionStatusActive)
		}

		sub.Status = enums.SubscriptionStatusActive
		sub.PausedAt = nil
		sub.PauseReason = nil
		next := nextBillingDate(time.Now().UTC(), sub.Frequency, sub.FrequencyUnit)
		sub.NextBillingDate = &next
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resume subscription")
		}
		if err := s.userRepo.WithTx(tx).SetHasActiveSubscription(ctx, sub.UserID, true); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update profile flag")
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorProviderStatus(ctx, result, mercadopago.PreapprovalStatusAuthorized)
	s.dispatch(ctx, enums.NotificationKindSubscriptionResumed, result)
	return result, nil
}

// Cancel terminates a subscription. Cancelled is terminal; rows are retained
// for audit.
func (s *Service) Cancel(ctx context.Context, actor Actor, subscriptionID uuid.UUID, reason string) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.loadOwned(ctx, repo, actor, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusActive && sub.Status != enums.SubscriptionStatusPaused {
			return transitionError(sub.Status, enums.SubscriptionStatusCancelled)
		}

		now := time.Now().UTC()
		sub.Status = enums.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		if reason != "" {
			sub.CancellationReason = &reason
		}
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
		}
		if err := s.refreshProfileFlag(ctx, tx, sub.UserID); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorProviderStatus(ctx, result, mercadopago.PreapprovalStatusCancelled)
	s.dispatch(ctx, enums.NotificationKindSubscriptionCancelled, result)
	return result, nil
}

// ModifyParams carries partial subscription updates.
type ModifyParams struct {
	Quantity        *int
	DeliveryAddress *string
	Frequency       *int
	FrequencyUnit   *enums.FrequencyUnit
}

func (p ModifyParams) empty() bool {
	return p.Quantity == nil && p.DeliveryAddress == nil && p.Frequency == nil && p.FrequencyUnit == nil
}

// Modify applies in-place attribute updates from active or paused. Price is
// recomputed when quantity changes, the billing date when cadence changes.
func (s *Service) Modify(ctx context.Context, actor Actor, subscriptionID uuid.UUID, params ModifyParams) (*models.Subscription, error) {
	if params.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one field must be supplied")
	}
	if params.Quantity != nil && *params.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if params.Frequency != nil && *params.Frequency <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "frequency must be positive")
	}
	if params.FrequencyUnit != nil && !params.FrequencyUnit.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid frequency unit %q", *params.FrequencyUnit))
	}

	var result *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.loadOwned(ctx, repo, actor, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusActive && sub.Status != enums.SubscriptionStatusPaused {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot modify subscription in state %q", sub.Status))
		}

		cadenceChanged := false
		if params.Quantity != nil && *params.Quantity != sub.Quantity {
			sub.Quantity = *params.Quantity
			sub.TotalPrice = computeTotalPrice(sub.BasePrice, sub.Quantity, sub.DiscountPercentage)
		}
		if params.DeliveryAddress != nil {
			sub.DeliveryAddress = params.DeliveryAddress
		}
		if params.Frequency != nil && *params.Frequency != sub.Frequency {
			sub.Frequency = *params.Frequency
			cadenceChanged = true
		}
		if params.FrequencyUnit != nil && *params.FrequencyUnit != sub.FrequencyUnit {
			sub.FrequencyUnit = *params.FrequencyUnit
			cadenceChanged = true
		}
		if cadenceChanged && sub.Status == enums.SubscriptionStatusActive {
			next := nextBillingDate(time.Now().UTC(), sub.Frequency, sub.FrequencyUnit)
			sub.NextBillingDate = &next
		}

		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "modify subscription")
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns a subscription the actor is allowed to see.
func (s *Service) Get(ctx context.Context, actor Actor, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || !actor.canAccess(sub) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// ListForUser returns all subscriptions owned by the user, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, nil
}

// BillingHistoryParams configures ledger pagination for one subscription.
type BillingHistoryParams struct {
	SubscriptionID uuid.UUID
	Limit          int
	Cursor         string
}

// BillingHistoryResult wraps ledger rows and the next-page cursor.
type BillingHistoryResult struct {
	Items  []models.BillingHistoryEntry `json:"items"`
	Cursor string                       `json:"cursor"`
}

// BillingHistory lists ledger rows for a subscription the actor owns.
func (s *Service) BillingHistory(ctx context.Context, actor Actor, params BillingHistoryParams) (*BillingHistoryResult, error) {
	if _, err := s.Get(ctx, actor, params.SubscriptionID); err != nil {
		return nil, err
	}

	query := ListBillingHistoryQuery{
		SubscriptionID: params.SubscriptionID,
		Limit:          params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	entries, next, err := s.repo.ListBillingHistory(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing history")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &BillingHistoryResult{Items: entries, Cursor: cursor}, nil
}

func (s *Service) loadOwned(ctx context.Context, repo Repository, actor Actor, subscriptionID uuid.UUID) (*models.Subscription, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	sub, err := repo.FindByIDForUpdate(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || !actor.canAccess(sub) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *Service) refreshProfileFlag(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	count, err := s.repo.WithTx(tx).CountActiveByUser(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active subscriptions")
	}
	if err := s.userRepo.WithTx(tx).SetHasActiveSubscription(ctx, userID, count > 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update profile flag")
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, kind enums.NotificationKind, sub *models.Subscription) {
	if s.notifier == nil || sub == nil {
		return
	}
	s.notifier.Notify(ctx, kind, sub)
}

func (s *Service) mirrorProviderStatus(ctx context.Context, sub *models.Subscription, status string) {
	if s.provider == nil || sub == nil || sub.ProviderSubscriptionID == nil {
		return
	}
	logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
	if _, err := s.provider.UpdatePreapprovalStatus(ctx, *sub.ProviderSubscriptionID, status); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "provider_status", status), "provider status mirror failed: "+err.Error())
		return
	}
	s.logg.Info(s.logg.WithField(logCtx, "provider_status", status), "provider status mirrored")
}

// recordAlternateReference folds a divergent provider reference into the
// subscription's metadata so future matching sees it.
func (s *Service) recordAlternateReference(sub *models.Subscription, reported string) error {
	meta, err := sub.DecodeMetadata()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode subscription metadata")
	}
	if !appendAlternateReference(&meta, sub.ExternalReference, reported) {
		return nil
	}
	if err := sub.EncodeMetadata(meta); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode subscription metadata")
	}
	return nil
}

func appendAlternateReference(meta *models.SubscriptionMetadata, local, reported string) bool {
	if reported == "" || reported == local {
		return false
	}
	for _, ref := range meta.AlternateReferences {
		if ref == reported {
			return false
		}
	}
	meta.AlternateReferences = append(meta.AlternateReferences, reported)
	return true
}

func transitionError(current, requested enums.SubscriptionStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot transition subscription from %q to %q", current, requested))
}

func nextBillingDate(from time.Time, frequency int, unit enums.FrequencyUnit) time.Time {
	if frequency <= 0 {
		frequency = 1
	}
	switch unit {
	case enums.FrequencyUnitDays:
		return from.AddDate(0, 0, frequency)
	default:
		return from.AddDate(0, frequency, 0)
	}
}

func computeTotalPrice(base decimal.Decimal, quantity int, discountPct decimal.Decimal) decimal.Decimal {
	gross := base.Mul(decimal.NewFromInt(int64(quantity)))
	discount := gross.Mul(discountPct).Div(decimal.NewFromInt(100))
	return gross.Sub(discount).Round(2)
}

func mintExternalReference(userID uuid.UUID, productID int64) string {
	short := strings.ReplaceAll(userID.String(), "-", "")[:8]
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("SUB-%s-p%d-%s", short, productID, suffix)
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
