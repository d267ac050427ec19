package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
)

// Line is one product quantity to reserve or restore.
type Line struct {
	ProductID uuid.UUID
	Qty       int
}

// Compensator reserves stock for an order and gives it back on cancellation.
type Compensator struct {
	repo Repository
}

func NewCompensator(repo Repository) (*Compensator, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &Compensator{repo: repo}, nil
}

// Repository exposes the product lookups to the order flow.
func (c *Compensator) Repository(tx *gorm.DB) Repository {
	return c.repo.WithTx(tx)
}

// ReserveAll reserves every line or none. On the first shortfall the lines
// already applied are restored before the error is returned.
func (c *Compensator) ReserveAll(ctx context.Context, tx *gorm.DB, lines []Line) error {
	repo := c.repo.WithTx(tx)
	applied := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			c.rollback(ctx, repo, applied)
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
		if err := repo.Reserve(ctx, line.ProductID, line.Qty); err != nil {
			rbErr := c.rollback(ctx, repo, applied)
			if errors.Is(err, ErrInsufficientStock) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient stock").
					WithDetails(map[string]any{
						"product_id": line.ProductID,
						"requested":  line.Qty,
					})
			}
			if rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve inventory")
		}
		applied = append(applied, line)
	}
	return nil
}

// RestoreAll returns every line to available stock.
func (c *Compensator) RestoreAll(ctx context.Context, tx *gorm.DB, lines []Line) error {
	repo := c.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		if err := repo.Restore(ctx, line.ProductID, line.Qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore inventory").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
	}
	return nil
}

func (c *Compensator) rollback(ctx context.Context, repo Repository, applied []Line) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		if err := repo.Restore(ctx, applied[i].ProductID, applied[i].Qty); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
