package mercadopago

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/verdeviva/verdeviva-backend/internal/matcher"
	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
	"github.com/verdeviva/verdeviva-backend/internal/subscriptions"
	"github.com/verdeviva/verdeviva-backend/internal/webhooklog"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
	mp "github.com/verdeviva/verdeviva-backend/pkg/mercadopago"
)

type stubLogRepo struct {
	seen      map[string]bool
	processed []uuid.UUID
	deferred  map[uuid.UUID]string
	failed    map[uuid.UUID]string
	linked    map[uuid.UUID]uuid.UUID
}

func newStubLogRepo() *stubLogRepo {
	return &stubLogRepo{
		seen:     map[string]bool{},
		deferred: map[uuid.UUID]string{},
		failed:   map[uuid.UUID]string{},
		linked:   map[uuid.UUID]uuid.UUID{},
	}
}

func (s *stubLogRepo) WithTx(_ *gorm.DB) webhooklog.Repository { return s }

func (s *stubLogRepo) InsertIfAbsent(_ context.Context, log *models.WebhookLog) (bool, error) {
	if s.seen[log.NotificationID] {
		return false, nil
	}
	s.seen[log.NotificationID] = true
	log.ID = uuid.New()
	return true, nil
}

func (s *stubLogRepo) MarkProcessed(_ context.Context, id uuid.UUID, subscriptionID *uuid.UUID) error {
	s.processed = append(s.processed, id)
	if subscriptionID != nil {
		s.linked[id] = *subscriptionID
	}
	return nil
}

func (s *stubLogRepo) MarkDeferred(_ context.Context, id uuid.UUID, reason string) error {
	s.deferred[id] = reason
	return nil
}

func (s *stubLogRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.failed[id] = reason
	return nil
}

func (s *stubLogRepo) CreateRetry(_ context.Context, original *models.WebhookLog, retryNotificationID string) (*models.WebhookLog, error) {
	s.seen[retryNotificationID] = true
	return &models.WebhookLog{
		ID:             uuid.New(),
		NotificationID: retryNotificationID,
		EventType:      original.EventType,
		Action:         original.Action,
		ResourceID:     original.ResourceID,
		Payload:        original.Payload,
		Status:         enums.WebhookLogStatusReceived,
		RetryOf:        &original.ID,
	}, nil
}

func (s *stubLogRepo) FindByNotificationID(_ context.Context, _ string) (*models.WebhookLog, error) {
	return nil, nil
}

func (s *stubLogRepo) ListDeferred(_ context.Context, _ time.Time, _ int) ([]models.WebhookLog, error) {
	return nil, nil
}

func (s *stubLogRepo) CountBySubscriptionIDs(_ context.Context, _ []uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *stubLogRepo) CountByStatusSince(_ context.Context, _ time.Time) (map[enums.WebhookLogStatus]int64, error) {
	return nil, nil
}

type stubProvider struct {
	payments     map[string]*mp.Payment
	preapprovals map[string]*mp.Preapproval
	err          error
}

func (s *stubProvider) GetPayment(_ context.Context, id string) (*mp.Payment, error) {
	if s.err != nil {
		return nil, s.err
	}
	if p, ok := s.payments[id]; ok {
		return p, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "mercado pago resource not found")
}

func (s *stubProvider) GetPreapproval(_ context.Context, id string) (*mp.Preapproval, error) {
	if s.err != nil {
		return nil, s.err
	}
	if p, ok := s.preapprovals[id]; ok {
		return p, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "mercado pago resource not found")
}

type stubResolver struct {
	match *matcher.Match
	err   error
}

func (s *stubResolver) Resolve(_ context.Context, _ matcher.PaymentContext) (*matcher.Match, error) {
	return s.match, s.err
}

type recordedStatus struct {
	subscriptionID uuid.UUID
	status         string
}

type stubActivator struct {
	calls       []subscriptions.ActivateParams
	statusCalls []recordedStatus
	err         error
	statusErr   error
}

func (s *stubActivator) Activate(_ context.Context, params subscriptions.ActivateParams) (*models.Subscription, error) {
	s.calls = append(s.calls, params)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Subscription{ID: params.SubscriptionID, Status: enums.SubscriptionStatusActive}, nil
}

func (s *stubActivator) RecordProviderStatus(_ context.Context, subscriptionID uuid.UUID, status string, _ time.Time) error {
	s.statusCalls = append(s.statusCalls, recordedStatus{subscriptionID: subscriptionID, status: status})
	return s.statusErr
}

type stubBackstop struct {
	result *reconciler.Result
	err    error
	calls  []reconciler.Request
}

func (s *stubBackstop) Reconcile(_ context.Context, req reconciler.Request) (*reconciler.Result, error) {
	s.calls = append(s.calls, req)
	return s.result, s.err
}

type fixture struct {
	logs      *stubLogRepo
	provider  *stubProvider
	resolver  *stubResolver
	activator *stubActivator
	backstop  *stubBackstop
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		logs: newStubLogRepo(),
		provider: &stubProvider{
			payments:     map[string]*mp.Payment{},
			preapprovals: map[string]*mp.Preapproval{},
		},
		resolver:  &stubResolver{err: matcher.ErrNotFound},
		activator: &stubActivator{},
		backstop:  &stubBackstop{result: &reconciler.Result{Outcome: reconciler.OutcomeNotFound}},
	}
	svc, err := NewService(ServiceParams{
		Logs:      f.logs,
		Provider:  f.provider,
		Matcher:   f.resolver,
		Activator: f.activator,
		Backstop:  f.backstop,
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.service = svc
	return f
}

func paymentNotification(id string) Notification {
	return Notification{
		ID:   "107584108830",
		Type: EventTypePayment,
		Data: NotificationData{ID: id},
	}
}

func approvedPayment(ref string) *mp.Payment {
	approvedAt := time.Now().UTC().Add(-time.Minute)
	return &mp.Payment{
		ID:                9900112233,
		Status:            mp.PaymentStatusApproved,
		ExternalReference: ref,
		CurrencyID:        "BRL",
		TransactionAmount: decimal.RequireFromString("149.90"),
		DateCreated:       approvedAt.Add(-time.Minute),
		DateApproved:      &approvedAt,
	}
}

func TestProcessApprovedPaymentActivatesMatch(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalReference: "SUB-u1a2b3c4-p73-ab12cd34"}
	f.resolver.match = &matcher.Match{Subscription: sub, Strategy: enums.MatchStrategyExternalReference}
	f.resolver.err = nil
	f.provider.payments["9900112233"] = approvedPayment(sub.ExternalReference)

	result, err := f.service.Process(context.Background(), paymentNotification("9900112233"), []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %s (%s)", result.Outcome, result.Reason)
	}
	if len(f.activator.calls) != 1 {
		t.Fatalf("expected one activation, got %d", len(f.activator.calls))
	}
	call := f.activator.calls[0]
	if call.ProviderPaymentID != "9900112233" {
		t.Fatalf("expected payment id forwarded, got %q", call.ProviderPaymentID)
	}
	if call.Source != enums.ActivationSourceWebhook {
		t.Fatalf("expected webhook source, got %s", call.Source)
	}
	if call.NotificationID != "107584108830" {
		t.Fatalf("expected notification id on ledger metadata, got %q", call.NotificationID)
	}
	if call.ExternalReference != sub.ExternalReference {
		t.Fatalf("expected payment reference forwarded, got %q", call.ExternalReference)
	}
	if len(f.logs.processed) != 1 {
		t.Fatalf("expected log marked processed")
	}
}

func TestProcessDuplicateNotificationShortCircuits(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalReference: "SUB-u1a2b3c4-p73-ab12cd34"}
	f.resolver.match = &matcher.Match{Subscription: sub, Strategy: enums.MatchStrategyExternalReference}
	f.resolver.err = nil
	f.provider.payments["9900112233"] = approvedPayment(sub.ExternalReference)

	n := paymentNotification("9900112233")
	if _, err := f.service.Process(context.Background(), n, []byte(`{}`)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	result, err := f.service.Process(context.Background(), n, []byte(`{}`))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", result.Outcome)
	}
	if len(f.activator.calls) != 1 {
		t.Fatalf("duplicate must not reach the activator, got %d calls", len(f.activator.calls))
	}
}

func TestProcessNonApprovalPaymentIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	payment := approvedPayment("SUB-u1a2b3c4-p73-ab12cd34")
	payment.Status = mp.PaymentStatusRejected
	f.provider.payments["9900112233"] = payment

	result, err := f.service.Process(context.Background(), paymentNotification("9900112233"), []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", result.Outcome)
	}
	if len(f.activator.calls) != 0 {
		t.Fatalf("rejected payment must not activate")
	}
}

func TestProcessUnmatchedPaymentTriesBackstopThenDefers(t *testing.T) {
	f := newFixture(t)
	f.provider.payments["9900112233"] = approvedPayment("SUB-unknown-p1-deadbeef")

	result, err := f.service.Process(context.Background(), paymentNotification("9900112233"), []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred, got %s", result.Outcome)
	}
	if len(f.backstop.calls) != 1 {
		t.Fatalf("expected backstop consulted once, got %d", len(f.backstop.calls))
	}
	if f.backstop.calls[0].PaymentID != "9900112233" {
		t.Fatalf("expected payment id handed to backstop")
	}
	if len(f.logs.deferred) != 1 {
		t.Fatalf("expected log marked deferred")
	}
}

func TestProcessBackstopActivationCompletesDelivery(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), Status: enums.SubscriptionStatusActive}
	f.backstop.result = &reconciler.Result{
		Outcome:      reconciler.OutcomeActivated,
		Strategy:     enums.MatchStrategyUserProductWindow,
		Subscription: sub,
	}
	f.provider.payments["9900112233"] = approvedPayment("SUB-u1a2b3c4-p73-ff99ee11")

	result, err := f.service.Process(context.Background(), paymentNotification("9900112233"), []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed via backstop, got %s", result.Outcome)
	}
	if len(f.activator.calls) != 0 {
		t.Fatalf("backstop already activated; service must not activate again")
	}
	if result.SubscriptionID == nil || *result.SubscriptionID != sub.ID {
		t.Fatalf("expected subscription linked to log")
	}
}

func TestProcessAmbiguousMatchDefersWithoutGuessing(t *testing.T) {
	f := newFixture(t)
	f.resolver.err = matcher.ErrAmbiguous
	f.provider.payments["9900112233"] = approvedPayment("SUB-u1a2b3c4-p73-ab12cd34")

	result, err := f.service.Process(context.Background(), paymentNotification("9900112233"), []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred, got %s", result.Outcome)
	}
	if len(f.backstop.calls) != 0 {
		t.Fatalf("ambiguity is not resolved by the backstop")
	}
	if len(f.activator.calls) != 0 {
		t.Fatalf("ambiguous match must never activate")
	}
}

func TestProcessProviderOutageDefers(t *testing.T) {
	f := newFixture(t)
	f.provider.err = pkgerrors.New(pkgerrors.CodeDependency, "mercado pago request failed")

	result, err := f.service.Process(context.Background(), paymentNotification("9900112233"), []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred on provider outage, got %s", result.Outcome)
	}
}

func TestProcessActivationFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalReference: "SUB-u1a2b3c4-p73-ab12cd34"}
	f.resolver.match = &matcher.Match{Subscription: sub, Strategy: enums.MatchStrategyExternalReference}
	f.resolver.err = nil
	f.activator.err = pkgerrors.New(pkgerrors.CodeInternal, "database unavailable")
	f.provider.payments["9900112233"] = approvedPayment(sub.ExternalReference)

	result, err := f.service.Process(context.Background(), paymentNotification("9900112233"), []byte(`{}`))
	if err == nil {
		t.Fatalf("expected error surfaced to caller")
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if len(f.logs.failed) != 1 {
		t.Fatalf("expected log marked failed")
	}
}

func TestProcessAuthorizedPreapprovalActivates(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalReference: "SUB-u1a2b3c4-p73-ab12cd34"}
	f.resolver.match = &matcher.Match{Subscription: sub, Strategy: enums.MatchStrategyExternalReference}
	f.resolver.err = nil
	f.provider.preapprovals["pre_123"] = &mp.Preapproval{
		ID:                "pre_123",
		Status:            mp.PreapprovalStatusAuthorized,
		ExternalReference: sub.ExternalReference,
		PayerEmail:        "buyer@example.com",
	}

	result, err := f.service.Process(context.Background(), Notification{
		ID:   "107584108831",
		Type: EventTypePreapproval,
		Data: NotificationData{ID: "pre_123"},
	}, []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %s (%s)", result.Outcome, result.Reason)
	}
	call := f.activator.calls[0]
	if call.ProviderSubscriptionID != "pre_123" {
		t.Fatalf("expected preapproval id linked, got %q", call.ProviderSubscriptionID)
	}
	if call.PaymentStatus != enums.PaymentStatusAuthorized {
		t.Fatalf("expected authorized status, got %s", call.PaymentStatus)
	}
	if call.ProviderPaymentID != "" {
		t.Fatalf("preapproval activation carries no payment id")
	}
}

func TestProcessPausedPreapprovalIsRecordedNotApplied(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalReference: "SUB-u1a2b3c4-p73-ab12cd34", Status: enums.SubscriptionStatusActive}
	f.resolver.match = &matcher.Match{Subscription: sub, Strategy: enums.MatchStrategyProviderSubscriptionID}
	f.resolver.err = nil
	f.provider.preapprovals["pre_123"] = &mp.Preapproval{
		ID:                "pre_123",
		Status:            mp.PreapprovalStatusPaused,
		ExternalReference: sub.ExternalReference,
	}

	result, err := f.service.Process(context.Background(), Notification{
		ID:   "107584108832",
		Type: EventTypePreapproval,
		Data: NotificationData{ID: "pre_123"},
	}, []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", result.Outcome)
	}
	if len(f.activator.calls) != 0 {
		t.Fatalf("provider echo must not mutate local state")
	}
	if len(f.activator.statusCalls) != 1 {
		t.Fatalf("expected provider status recorded once, got %d", len(f.activator.statusCalls))
	}
	recorded := f.activator.statusCalls[0]
	if recorded.subscriptionID != sub.ID || recorded.status != mp.PreapprovalStatusPaused {
		t.Fatalf("wrong status recorded: %+v", recorded)
	}
}

func TestProcessPausedPreapprovalRecordingFailureStillAcks(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalReference: "SUB-u1a2b3c4-p73-ab12cd34", Status: enums.SubscriptionStatusActive}
	f.resolver.match = &matcher.Match{Subscription: sub, Strategy: enums.MatchStrategyProviderSubscriptionID}
	f.resolver.err = nil
	f.activator.statusErr = pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")
	f.provider.preapprovals["pre_123"] = &mp.Preapproval{
		ID:                "pre_123",
		Status:            mp.PreapprovalStatusCancelled,
		ExternalReference: sub.ExternalReference,
	}

	result, err := f.service.Process(context.Background(), Notification{
		ID:   "107584108835",
		Type: EventTypePreapproval,
		Data: NotificationData{ID: "pre_123"},
	}, []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", result.Outcome)
	}
	if len(f.logs.processed) != 1 {
		t.Fatalf("recording failure must not block the ack")
	}
}

func TestProcessUnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Process(context.Background(), Notification{
		ID:   "107584108833",
		Type: "plan",
		Data: NotificationData{ID: "plan_1"},
	}, []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", result.Outcome)
	}
}

func TestReplayDeferredDeliverySucceedsOnceMatchable(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalReference: "SUB-u1a2b3c4-p73-ab12cd34"}
	f.resolver.match = &matcher.Match{Subscription: sub, Strategy: enums.MatchStrategyExternalReference}
	f.resolver.err = nil
	f.provider.payments["9900112233"] = approvedPayment(sub.ExternalReference)

	original := &models.WebhookLog{
		ID:             uuid.New(),
		NotificationID: "107584108830",
		EventType:      EventTypePayment,
		ResourceID:     "9900112233",
		Payload:        []byte(`{"id":"107584108830","type":"payment","data":{"id":"9900112233"}}`),
		Status:         enums.WebhookLogStatusDeferred,
	}

	result, err := f.service.Replay(context.Background(), original)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %s (%s)", result.Outcome, result.Reason)
	}
	if len(f.activator.calls) != 1 {
		t.Fatalf("expected one activation, got %d", len(f.activator.calls))
	}
	if reason, ok := f.logs.failed[original.ID]; !ok || reason == "" {
		t.Fatalf("expected original marked superseded, got %v", f.logs.failed)
	}
}

func TestReplayUnparsablePayloadMarksFailed(t *testing.T) {
	f := newFixture(t)
	original := &models.WebhookLog{
		ID:             uuid.New(),
		NotificationID: "107584108834",
		EventType:      EventTypePayment,
		Payload:        []byte(`not json`),
		Status:         enums.WebhookLogStatusDeferred,
	}

	if _, err := f.service.Replay(context.Background(), original); err == nil {
		t.Fatalf("expected error for unparsable payload")
	}
	if _, ok := f.logs.failed[original.ID]; !ok {
		t.Fatalf("expected original marked failed")
	}
}

func TestNotificationIDFallsBackToResource(t *testing.T) {
	n := Notification{Type: EventTypePayment, Data: NotificationData{ID: "9900112233"}}
	if got := n.NotificationID(); got != "payment:9900112233" {
		t.Fatalf("expected fallback id, got %q", got)
	}
}
