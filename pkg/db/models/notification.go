package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

// Notification is a customer-facing message produced after a lifecycle
// transition. Delivery is best effort; a nil SentAt means the dispatch
// attempt failed and the row is the audit trail.
type Notification struct {
	ID             uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID uuid.UUID              `gorm:"column:subscription_id;type:uuid;not null;index"`
	Kind           enums.NotificationKind `gorm:"column:kind;type:notification_kind;not null"`
	Subject        string                 `gorm:"column:subject;not null"`
	Body           string                 `gorm:"column:body;not null"`
	SentAt         *time.Time             `gorm:"column:sent_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}
