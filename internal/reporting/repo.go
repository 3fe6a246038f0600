package reporting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

// RevenueRollup is one currency/month revenue bucket from the ledger.
type RevenueRollup struct {
	Currency string          `json:"currency"`
	Month    string          `json:"month"`
	Total    decimal.Decimal `json:"total"`
}

// Repository runs the read-only aggregate queries behind reports.
type Repository interface {
	CountSubscriptionsByStatus(ctx context.Context) (map[enums.SubscriptionStatus]int64, error)
	SumRevenueByCurrencyMonth(ctx context.Context, since time.Time) ([]RevenueRollup, error)
	CountLedgerBySource(ctx context.Context, since time.Time) (map[string]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a reporting repository bound to the provided database.
func NewRepository(gdb *gorm.DB) Repository {
	return &repository{db: gdb}
}

func (r *repository) CountSubscriptionsByStatus(ctx context.Context) (map[enums.SubscriptionStatus]int64, error) {
	type row struct {
		Status enums.SubscriptionStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.SubscriptionStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (r *repository) SumRevenueByCurrencyMonth(ctx context.Context, since time.Time) ([]RevenueRollup, error) {
	var rollups []RevenueRollup
	if err := r.db.WithContext(ctx).
		Model(&models.BillingHistoryEntry{}).
		Select("currency, to_char(billing_date, 'YYYY-MM') AS month, SUM(amount) AS total").
		Where("billing_date >= ?", since).
		Where("status IN ?", []enums.PaymentStatus{enums.PaymentStatusApproved, enums.PaymentStatusAuthorized}).
		Group("currency, to_char(billing_date, 'YYYY-MM')").
		Order("month ASC, currency ASC").
		Find(&rollups).Error; err != nil {
		return nil, err
	}
	return rollups, nil
}

func (r *repository) CountLedgerBySource(ctx context.Context, since time.Time) (map[string]int64, error) {
	type row struct {
		Source string
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.BillingHistoryEntry{}).
		Select("COALESCE(metadata->>'source', 'unknown') AS source, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("COALESCE(metadata->>'source', 'unknown')").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Source] = r.Count
	}
	return counts, nil
}
