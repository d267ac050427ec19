package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
)

// ErrInsufficientStock is returned when a conditional reserve matches no row.
var ErrInsufficientStock = errors.New("insufficient stock")

// Repository is the read + reserve surface of the catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int) error
	Restore(ctx context.Context, productID uuid.UUID, qty int) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// Reserve moves qty from available to reserved in a single conditional
// statement so concurrent reservations cannot oversell.
func (r *repository) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE inventory_items
		SET available_qty = available_qty - ?, reserved_qty = reserved_qty + ?, updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND available_qty >= ?`,
		qty, qty, productID, qty,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *repository) Restore(ctx context.Context, productID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE inventory_items
		SET available_qty = available_qty + ?, reserved_qty = CASE WHEN reserved_qty >= ? THEN reserved_qty - ? ELSE 0 END, updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?`,
		qty, qty, qty, productID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
