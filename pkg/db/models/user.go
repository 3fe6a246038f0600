package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

// User is the account owning subscriptions. HasActiveSubscription is a
// denormalized flag kept in sync by the subscription state machine and
// recomputed by the integrity checker.
type User struct {
	ID                    uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email                 string          `gorm:"column:email;not null;uniqueIndex"`
	Name                  string          `gorm:"column:name;not null"`
	Role                  enums.ActorRole `gorm:"column:role;type:actor_role;not null;default:'customer'"`
	HasActiveSubscription bool            `gorm:"column:has_active_subscription;not null;default:false"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
