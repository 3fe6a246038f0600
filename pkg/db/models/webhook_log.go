package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

// WebhookLog records every inbound provider notification, success or failure.
// Rows are insert-only; a retry creates a new row referencing the original
// through RetryOf. The unique notification_id constraint is the idempotency
// boundary for at-least-once delivery.
type WebhookLog struct {
	ID             uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	NotificationID string                 `gorm:"column:notification_id;not null;uniqueIndex"`
	EventType      string                 `gorm:"column:event_type;not null"`
	Action         string                 `gorm:"column:action"`
	ResourceID     string                 `gorm:"column:resource_id;not null;index"`
	Payload        json.RawMessage        `gorm:"column:payload;type:jsonb"`
	Status         enums.WebhookLogStatus `gorm:"column:status;type:webhook_log_status;not null;default:'received'"`
	Error          *string                `gorm:"column:error"`
	SubscriptionID *uuid.UUID             `gorm:"column:subscription_id;type:uuid;index"`
	RetryOf        *uuid.UUID             `gorm:"column:retry_of;type:uuid"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}
