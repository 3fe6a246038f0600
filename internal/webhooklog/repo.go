package webhooklog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdeviva/verdeviva-backend/pkg/db"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

const notificationIDConstraint = "idx_webhook_logs_notification_id"

// Repository handles webhook log persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// InsertIfAbsent writes the log row and reports whether it was inserted.
	// A false return with a nil error means another delivery of the same
	// notification already claimed the unique notification_id slot.
	InsertIfAbsent(ctx context.Context, log *models.WebhookLog) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, subscriptionID *uuid.UUID) error
	MarkDeferred(ctx context.Context, id uuid.UUID, reason string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CreateRetry(ctx context.Context, original *models.WebhookLog, retryNotificationID string) (*models.WebhookLog, error)
	FindByNotificationID(ctx context.Context, notificationID string) (*models.WebhookLog, error)
	ListDeferred(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookLog, error)
	CountByStatusSince(ctx context.Context, since time.Time) (map[enums.WebhookLogStatus]int64, error)
	CountBySubscriptionIDs(ctx context.Context, subscriptionIDs []uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a webhook log repository bound to the provided database.
func NewRepository(gdb *gorm.DB) Repository {
	return &repository{db: gdb}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) InsertIfAbsent(ctx context.Context, log *models.WebhookLog) (bool, error) {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		if db.IsUniqueViolation(err, notificationIDConstraint) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, subscriptionID *uuid.UUID) error {
	updates := map[string]any{
		"status": enums.WebhookLogStatusProcessed,
		"error":  nil,
	}
	if subscriptionID != nil {
		updates["subscription_id"] = *subscriptionID
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) MarkDeferred(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": enums.WebhookLogStatusDeferred,
			"error":  reason,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": enums.WebhookLogStatusFailed,
			"error":  reason,
		}).Error
}

func (r *repository) CreateRetry(ctx context.Context, original *models.WebhookLog, retryNotificationID string) (*models.WebhookLog, error) {
	retry := &models.WebhookLog{
		NotificationID: retryNotificationID,
		EventType:      original.EventType,
		Action:         original.Action,
		ResourceID:     original.ResourceID,
		Payload:        original.Payload,
		Status:         enums.WebhookLogStatusReceived,
		RetryOf:        &original.ID,
	}
	if err := r.db.WithContext(ctx).Create(retry).Error; err != nil {
		return nil, err
	}
	return retry, nil
}

func (r *repository) FindByNotificationID(ctx context.Context, notificationID string) (*models.WebhookLog, error) {
	if notificationID == "" {
		return nil, nil
	}
	var log models.WebhookLog
	if err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		First(&log).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

func (r *repository) ListDeferred(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []models.WebhookLog
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.WebhookLogStatusDeferred).
		Where("created_at < ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) CountBySubscriptionIDs(ctx context.Context, subscriptionIDs []uuid.UUID) (int64, error) {
	if len(subscriptionIDs) == 0 {
		return 0, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("subscription_id IN ?", subscriptionIDs).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) CountByStatusSince(ctx context.Context, since time.Time) (map[enums.WebhookLogStatus]int64, error) {
	type row struct {
		Status enums.WebhookLogStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Select("status, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.WebhookLogStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
