package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

// Sender delivers a composed message to the customer. Delivery transport is
// pluggable; failures are recorded, never propagated.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes the message to the structured log instead of delivering
// it. Used until a real email transport is configured.
type LogSender struct {
	Logger *logger.Logger
}

func (l LogSender) Send(ctx context.Context, to, subject, _ string) error {
	logCtx := l.Logger.WithFields(ctx, map[string]any{
		"to":      to,
		"subject": subject,
	})
	l.Logger.Info(logCtx, "notification delivered to log sink")
	return nil
}

// ServiceParams wires the notification dispatcher.
type ServiceParams struct {
	Repo   Repository
	Sender Sender
	Logger *logger.Logger
}

// Service records lifecycle notifications and attempts delivery in the
// background. Everything here is best effort by contract: a failure leaves
// an unsent row behind and never reaches the caller.
type Service struct {
	repo   Repository
	sender Sender
	logg   *logger.Logger
}

// NewService validates dependencies and returns the dispatcher.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifications repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	sender := params.Sender
	if sender == nil {
		sender = LogSender{Logger: params.Logger}
	}
	return &Service{
		repo:   params.Repo,
		sender: sender,
		logg:   params.Logger,
	}, nil
}

// Notify records the notification and dispatches it detached from the
// caller's request lifetime.
func (s *Service) Notify(ctx context.Context, kind enums.NotificationKind, sub *models.Subscription) {
	if sub == nil || !kind.IsValid() {
		return
	}

	subject, body := compose(kind, sub)
	notification := &models.Notification{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Kind:           kind,
		Subject:        subject,
		Body:           body,
	}

	detached := context.WithoutCancel(ctx)
	go s.deliver(detached, notification, sub.CustomerEmail)
}

func (s *Service) deliver(ctx context.Context, notification *models.Notification, email string) {
	defer func() {
		if r := recover(); r != nil {
			s.logg.Warn(ctx, fmt.Sprintf("notification dispatch panicked: %v", r))
		}
	}()

	if err := s.repo.Create(ctx, notification); err != nil {
		s.logg.Warn(ctx, "notification record failed: "+err.Error())
		return
	}
	if err := s.sender.Send(ctx, email, notification.Subject, notification.Body); err != nil {
		s.logg.Warn(ctx, "notification send failed: "+err.Error())
		return
	}
	if err := s.repo.MarkSent(ctx, notification.ID, time.Now().UTC()); err != nil {
		s.logg.Warn(ctx, "notification mark sent failed: "+err.Error())
	}
}

func compose(kind enums.NotificationKind, sub *models.Subscription) (subject, body string) {
	name := sub.CustomerName
	if name == "" {
		name = "there"
	}
	switch kind {
	case enums.NotificationKindSubscriptionActivated:
		subject = "Your subscription is active"
		body = fmt.Sprintf("Hi %s, your subscription %s is now active. Next billing date: %s.",
			name, sub.ExternalReference, formatDate(sub.NextBillingDate))
	case enums.NotificationKindSubscriptionPaused:
		subject = "Your subscription is paused"
		body = fmt.Sprintf("Hi %s, your subscription %s has been paused. You can resume it anytime.",
			name, sub.ExternalReference)
	case enums.NotificationKindSubscriptionResumed:
		subject = "Your subscription has resumed"
		body = fmt.Sprintf("Hi %s, your subscription %s is active again. Next billing date: %s.",
			name, sub.ExternalReference, formatDate(sub.NextBillingDate))
	case enums.NotificationKindSubscriptionCancelled:
		subject = "Your subscription is cancelled"
		body = fmt.Sprintf("Hi %s, your subscription %s has been cancelled. We are sorry to see you go.",
			name, sub.ExternalReference)
	}
	return subject, body
}

func formatDate(value *time.Time) string {
	if value == nil {
		return "to be confirmed"
	}
	return value.Format("2006-01-02")
}
