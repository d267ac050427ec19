package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CountByNumberPrefix(ctx context.Context, prefix string) (int64, error)
	// TransitionStatus moves the order from -> to only when the stored status
	// still equals from. It reports whether the row changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (bool, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error)
}

// SequenceSource hands out the daily order counter for a YYMMDD day key.
type SequenceSource interface {
	Next(ctx context.Context, day string, at time.Time) (int64, error)
}
