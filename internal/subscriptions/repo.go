package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verdeviva/verdeviva-backend/pkg/db"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	"github.com/verdeviva/verdeviva-backend/pkg/pagination"
)

const billingHistoryConstraint = "idx_billing_history_subscription_payment"

// Repository handles subscription and billing history persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, subscription *models.Subscription) error
	Update(ctx context.Context, subscription *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	// FindByIDForUpdate locks the row for the remainder of the transaction.
	// Only meaningful on a tx-bound repository.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByExternalReference(ctx context.Context, ref string) (*models.Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, providerID string) (*models.Subscription, error)
	ListByAlternateReference(ctx context.Context, ref string) ([]models.Subscription, error)
	ListPendingByUserProduct(ctx context.Context, userID uuid.UUID, productID int64, center time.Time, window time.Duration) ([]models.Subscription, error)
	ListPendingByReferencePrefix(ctx context.Context, prefix string, center time.Time, window time.Duration) ([]models.Subscription, error)
	ListPendingByUserEmail(ctx context.Context, userID uuid.UUID, email string, center time.Time, window time.Duration) ([]models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Subscription, error)
	CountActiveByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// AppendBillingHistory inserts the ledger row and reports whether it was
	// inserted. A false return with a nil error means the same
	// (subscription_id, provider_payment_id) pair already has a row.
	AppendBillingHistory(ctx context.Context, entry *models.BillingHistoryEntry) (bool, error)
	ListBillingHistory(ctx context.Context, params ListBillingHistoryQuery) ([]models.BillingHistoryEntry, *pagination.Cursor, error)
	CountBillingHistory(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(gdb *gorm.DB) Repository {
	return &repository{db: gdb}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) Update(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sub, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByExternalReference(ctx context.Context, ref string) (*models.Subscription, error) {
	if ref == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("external_reference = ?", ref).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByProviderSubscriptionID(ctx context.Context, providerID string) (*models.Subscription, error) {
	if providerID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("provider_subscription_id = ?", providerID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByAlternateReference(ctx context.Context, ref string) ([]models.Subscription, error) {
	if ref == "" {
		return nil, nil
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("metadata->'alternate_references' @> to_jsonb(?::text)", ref).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListPendingByUserProduct(ctx context.Context, userID uuid.UUID, productID int64, center time.Time, window time.Duration) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Where("status = ?", enums.SubscriptionStatusPending).
		Where("created_at BETWEEN ? AND ?", center.Add(-window), center.Add(window)).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListPendingByReferencePrefix(ctx context.Context, prefix string, center time.Time, window time.Duration) ([]models.Subscription, error) {
	if prefix == "" {
		return nil, nil
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("external_reference LIKE ?", prefix+"%").
		Where("status = ?", enums.SubscriptionStatusPending).
		Where("created_at BETWEEN ? AND ?", center.Add(-window), center.Add(window)).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListPendingByUserEmail(ctx context.Context, userID uuid.UUID, email string, center time.Time, window time.Duration) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND customer_email = ?", userID, email).
		Where("status = ?", enums.SubscriptionStatusPending).
		Where("created_at BETWEEN ? AND ?", center.Add(-window), center.Add(window)).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusPending).
		Where("created_at < ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CountActiveByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) AppendBillingHistory(ctx context.Context, entry *models.BillingHistoryEntry) (bool, error) {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if db.IsUniqueViolation(err, billingHistoryConstraint) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListBillingHistoryQuery configures billing history list queries.
type ListBillingHistoryQuery struct {
	SubscriptionID uuid.UUID
	Limit          int
	Cursor         *pagination.Cursor
	Status         *enums.PaymentStatus
}

func (r *repository) ListBillingHistory(ctx context.Context, params ListBillingHistoryQuery) ([]models.BillingHistoryEntry, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Model(&models.BillingHistoryEntry{}).
		Where("subscription_id = ?", params.SubscriptionID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var entries []models.BillingHistoryEntry
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	if len(entries) > limit {
		next := entries[limit]
		entries = entries[:limit]
		return entries, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return entries, nil, nil
}

func (r *repository) CountBillingHistory(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.BillingHistoryEntry{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
