package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

// BillingHistoryEntry is an immutable ledger row for one payment event.
// The unique (subscription_id, provider_payment_id) pair is what makes
// webhook replays and reconciler races converge on a single row.
type BillingHistoryEntry struct {
	ID                uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID    uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex:idx_billing_history_subscription_payment"`
	ProviderPaymentID string              `gorm:"column:provider_payment_id;not null;uniqueIndex:idx_billing_history_subscription_payment"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string              `gorm:"column:currency;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	BillingDate       time.Time           `gorm:"column:billing_date;not null"`
	Metadata          json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// BillingHistoryMetadata is the decoded shape of BillingHistoryEntry.Metadata.
type BillingHistoryMetadata struct {
	Source         enums.ActivationSource `json:"source"`
	MatchStrategy  enums.MatchStrategy    `json:"match_strategy,omitempty"`
	NotificationID string                 `json:"notification_id,omitempty"`
}

// EncodeMetadata replaces the jsonb column with the provided value.
func (b *BillingHistoryEntry) EncodeMetadata(meta BillingHistoryMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	b.Metadata = raw
	return nil
}
