package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/pagination"
)

// TxnNumberConstraint is the unique index guarding txn_number.
const TxnNumberConstraint = "transactions_txn_number_key"

// Repository manages persistence for ledger transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByPaymentReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Transaction, error)
	FindActivePayment(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error)
	HasPendingRefund(ctx context.Context, originalID uuid.UUID) (bool, error)
	// Transition applies updates only while the row still holds from. It
	// reports whether the row changed.
	Transition(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error)
	UpdatePending(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error)
	Link(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error)
	ListPendingBefore(ctx context.Context, providers []enums.PaymentProvider, cutoff time.Time, limit int) ([]models.Transaction, error)
	SumByStatus(ctx context.Context, userID *uuid.UUID, since time.Time) ([]StatusTotal, error)
	ListForExport(ctx context.Context, filter ExportFilter) ([]models.Transaction, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Transaction, string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByPaymentReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND payment_reference = ?", provider, reference).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindActivePayment returns the pending or completed payment for an order.
func (r *repository) FindActivePayment(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ? AND status IN ?", orderID, enums.TransactionTypePayment,
			[]enums.TransactionStatus{enums.TransactionStatusPending, enums.TransactionStatusCompleted}).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) HasPendingRefund(ctx context.Context, originalID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("related_transaction_id = ? AND type = ? AND status = ?", originalID, enums.TransactionTypeRefund, enums.TransactionStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdatePending(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Link attaches an order to a transaction that has none yet.
func (r *repository) Link(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND order_id IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, providers []enums.PaymentProvider, cutoff time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND provider IN ? AND created_at < ?", enums.TransactionStatusPending, providers, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) SumByStatus(ctx context.Context, userID *uuid.UUID, since time.Time) ([]StatusTotal, error) {
	var rows []StatusTotal
	q := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS amount_cents").
		Where("created_at >= ?", since)
	q = applyOwnerScope(q, userID)
	err := q.Group("status").Order("status ASC").Scan(&rows).Error
	return rows, err
}

func (r *repository) ListForExport(ctx context.Context, filter ExportFilter) ([]models.Transaction, error) {
	var rows []models.Transaction
	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	q = applyOwnerScope(q, filter.OwnerID)
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		q = q.Where("type = ?", *filter.Type)
	}
	err := q.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Transaction, string, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}

	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	q = applyOwnerScope(q, filter.OwnerID)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		q = q.Where("type = ?", *filter.Type)
	}
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Transaction
	if err := q.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, "", err
	}

	rows, next := pagination.Trim(rows, limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return rows, next, nil
}

func applyOwnerScope(q *gorm.DB, ownerID *uuid.UUID) *gorm.DB {
	if ownerID == nil {
		return q
	}
	return q.Where("(buyer_id = ? OR farmer_id = ?)", *ownerID, *ownerID)
}
