package matcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

// Matching failures are ordinary outcomes, not faults. Callers defer the
// notification and wait for a retry or the reconciliation sweep.
var (
	ErrNotFound  = errors.New("no matching subscription")
	ErrAmbiguous = errors.New("ambiguous subscription match")
)

// DefaultWindow bounds the creation-time proximity for the fallback
// strategies. Wide enough for checkout-to-webhook latency, narrow enough
// to keep false positives out.
const DefaultWindow = 15 * time.Minute

// References are minted as SUB-<user fragment>-p<product id>-<entropy>.
// The first three segments survive re-issued checkout preferences, the
// entropy suffix does not.
var referencePattern = regexp.MustCompile(`^(SUB-[0-9a-fA-F]+-p\d+-)`)

type subscriptionLookup interface {
	FindByExternalReference(ctx context.Context, ref string) (*models.Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, providerID string) (*models.Subscription, error)
	ListByAlternateReference(ctx context.Context, ref string) ([]models.Subscription, error)
	ListPendingByUserProduct(ctx context.Context, userID uuid.UUID, productID int64, center time.Time, window time.Duration) ([]models.Subscription, error)
	ListPendingByReferencePrefix(ctx context.Context, prefix string, center time.Time, window time.Duration) ([]models.Subscription, error)
	ListPendingByUserEmail(ctx context.Context, userID uuid.UUID, email string, center time.Time, window time.Duration) ([]models.Subscription, error)
}

// PaymentContext carries the provider-side identity hints available for a
// payment event. Zero values mean "unknown".
type PaymentContext struct {
	ExternalReference      string
	ProviderSubscriptionID string
	UserID                 uuid.UUID
	ProductID              int64
	PayerEmail             string
	EventTime              time.Time
}

// Match is a resolved subscription plus the strategy that found it.
type Match struct {
	Subscription *models.Subscription
	Strategy     enums.MatchStrategy
}

// MatcherParams wires the matcher dependencies.
type MatcherParams struct {
	Lookup subscriptionLookup
	Logger *logger.Logger
	Window time.Duration
}

// Matcher resolves provider payment events to local subscriptions through
// an ordered strategy chain, stopping at the first strategy that yields
// exactly one candidate.
type Matcher struct {
	lookup subscriptionLookup
	logg   *logger.Logger
	window time.Duration
}

// NewMatcher validates dependencies and returns the matcher.
func NewMatcher(params MatcherParams) (*Matcher, error) {
	if params.Lookup == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription lookup required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	window := params.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Matcher{
		lookup: params.Lookup,
		logg:   params.Logger,
		window: window,
	}, nil
}

// Resolve runs the strategy chain. Zero matches returns ErrNotFound; more
// than one candidate at any step returns ErrAmbiguous so callers never
// activate a guessed subscription.
func (m *Matcher) Resolve(ctx context.Context, pc PaymentContext) (*Match, error) {
	eventTime := pc.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	// Strategy 1: the reference round-tripped intact.
	if pc.ExternalReference != "" {
		sub, err := m.lookup.FindByExternalReference(ctx, pc.ExternalReference)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by external reference")
		}
		if sub != nil {
			return &Match{Subscription: sub, Strategy: enums.MatchStrategyExternalReference}, nil
		}
	}

	// Strategy 2: the provider agreement was linked earlier.
	if pc.ProviderSubscriptionID != "" {
		sub, err := m.lookup.FindByProviderSubscriptionID(ctx, pc.ProviderSubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by provider subscription id")
		}
		if sub != nil {
			return &Match{Subscription: sub, Strategy: enums.MatchStrategyProviderSubscriptionID}, nil
		}
	}

	// Strategy 3: the reference was remapped during a past reconciliation.
	if pc.ExternalReference != "" {
		subs, err := m.lookup.ListByAlternateReference(ctx, pc.ExternalReference)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by alternate reference")
		}
		if match, err := m.single(ctx, subs, enums.MatchStrategyAlternateReference, pc); match != nil || err != nil {
			return match, err
		}
	}

	// Strategy 4: same user and product inside the creation window, the
	// entropy suffix of the reference diverged.
	subs, err := m.candidatesByUserProduct(ctx, pc, eventTime)
	if err != nil {
		return nil, err
	}
	if match, err := m.single(ctx, subs, enums.MatchStrategyUserProductWindow, pc); match != nil || err != nil {
		return match, err
	}

	// Strategy 5: last resort, sole pending record for the payer in the window.
	if pc.UserID != uuid.Nil && pc.PayerEmail != "" {
		subs, err := m.lookup.ListPendingByUserEmail(ctx, pc.UserID, pc.PayerEmail, eventTime, m.window)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by payer email")
		}
		if match, err := m.single(ctx, subs, enums.MatchStrategyPayerEmailWindow, pc); match != nil || err != nil {
			return match, err
		}
	}

	return nil, ErrNotFound
}

func (m *Matcher) candidatesByUserProduct(ctx context.Context, pc PaymentContext, eventTime time.Time) ([]models.Subscription, error) {
	if pc.UserID != uuid.Nil && pc.ProductID > 0 {
		subs, err := m.lookup.ListPendingByUserProduct(ctx, pc.UserID, pc.ProductID, eventTime, m.window)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by user and product")
		}
		return subs, nil
	}

	prefix := referencePrefix(pc.ExternalReference)
	if prefix == "" {
		return nil, nil
	}
	subs, err := m.lookup.ListPendingByReferencePrefix(ctx, prefix, eventTime, m.window)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by reference prefix")
	}
	return subs, nil
}

func (m *Matcher) single(ctx context.Context, subs []models.Subscription, strategy enums.MatchStrategy, pc PaymentContext) (*Match, error) {
	switch len(subs) {
	case 0:
		return nil, nil
	case 1:
		sub := subs[0]
		return &Match{Subscription: &sub, Strategy: strategy}, nil
	default:
		logCtx := m.logg.WithFields(ctx, map[string]any{
			"strategy":           strategy.String(),
			"external_reference": pc.ExternalReference,
			"candidates":         len(subs),
		})
		m.logg.Warn(logCtx, "ambiguous subscription match, deferring")
		return nil, fmt.Errorf("%w: strategy %s returned %d candidates", ErrAmbiguous, strategy, len(subs))
	}
}

func referencePrefix(ref string) string {
	groups := referencePattern.FindStringSubmatch(ref)
	if len(groups) != 2 {
		return ""
	}
	return groups[1]
}
