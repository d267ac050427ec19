package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// OrderNumberConstraint is the unique index guarding order numbers.
const OrderNumberConstraint = "orders_order_number_key"

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CountByNumberPrefix(ctx context.Context, prefix string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_number LIKE ?", prefix+"%").
		Count(&count).Error
	return count, err
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkPaid confirms a pending order and flags its payment as paid. A failed
// payment may be superseded by a later successful retry. Both columns are
// guarded independently so replays change nothing. The result reports
// whether the payment status moved.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", id, enums.PayableStatuses()).
		Update("payment_status", enums.PaymentStatusPaid)
	if res.Error != nil {
		return false, res.Error
	}
	paid := res.RowsAffected == 1

	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusPending).
		Update("status", enums.OrderStatusConfirmed).Error; err != nil {
		return false, err
	}
	return paid, nil
}

func (r *repository) MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.movePaymentStatus(ctx, id, enums.PaymentStatusPending, enums.PaymentStatusFailed)
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.movePaymentStatus(ctx, id, enums.PaymentStatusPaid, enums.PaymentStatusRefunded)
}

func (r *repository) movePaymentStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", id, from).
		Update("payment_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
