package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

// Subscription is the billable recurring agreement for one user/product pair.
// Rows are created in pending at checkout-preference time and are never hard
// deleted; cancelled is terminal but retained for audit.
type Subscription struct {
	ID                uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	ExternalReference string                   `gorm:"column:external_reference;not null;uniqueIndex"`
	// ProviderSubscriptionID is set exactly once, when the provider first
	// confirms the preapproval. Immutable afterwards.
	ProviderSubscriptionID *string                  `gorm:"column:provider_subscription_id;uniqueIndex"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	ProductID              int64                    `gorm:"column:product_id;not null;index"`
	Quantity               int                      `gorm:"column:quantity;not null;default:1"`
	BasePrice              decimal.Decimal          `gorm:"column:base_price;type:numeric(12,2);not null"`
	DiscountPercentage     decimal.Decimal          `gorm:"column:discount_percentage;type:numeric(5,2);not null;default:0"`
	TotalPrice             decimal.Decimal          `gorm:"column:total_price;type:numeric(12,2);not null"`
	Currency               string                   `gorm:"column:currency;not null;default:'ARS'"`
	Frequency              int                      `gorm:"column:frequency;not null;default:1"`
	FrequencyUnit          enums.FrequencyUnit      `gorm:"column:frequency_unit;type:frequency_unit;not null;default:'months'"`
	NextBillingDate        *time.Time               `gorm:"column:next_billing_date"`
	ChargesMade            int                      `gorm:"column:charges_made;not null;default:0"`
	CustomerEmail          string                   `gorm:"column:customer_email;not null"`
	CustomerName           string                   `gorm:"column:customer_name;not null"`
	DeliveryAddress        *string                  `gorm:"column:delivery_address"`
	PausedAt               *time.Time               `gorm:"column:paused_at"`
	PauseReason            *string                  `gorm:"column:pause_reason"`
	CancelledAt            *time.Time               `gorm:"column:cancelled_at"`
	CancellationReason     *string                  `gorm:"column:cancellation_reason"`
	Metadata               json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// SubscriptionMetadata is the decoded shape of Subscription.Metadata.
type SubscriptionMetadata struct {
	ActivationSource    string    `json:"activation_source,omitempty"`
	MatchStrategy       string    `json:"match_strategy,omitempty"`
	ActivationReason    string    `json:"activation_reason,omitempty"`
	AlternateReferences []string  `json:"alternate_references,omitempty"`
	LastProviderStatus  string    `json:"last_provider_status,omitempty"`
	LastSyncedAt        time.Time `json:"last_synced_at,omitzero"`
}

// DecodeMetadata unmarshals the jsonb column, tolerating an empty value.
func (s *Subscription) DecodeMetadata() (SubscriptionMetadata, error) {
	var meta SubscriptionMetadata
	if len(s.Metadata) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(s.Metadata, &meta); err != nil {
		return SubscriptionMetadata{}, err
	}
	return meta, nil
}

// EncodeMetadata replaces the jsonb column with the provided value.
func (s *Subscription) EncodeMetadata(meta SubscriptionMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	s.Metadata = raw
	return nil
}
