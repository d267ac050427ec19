package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/types"
)

// ItemInput is a client line item. Only product and quantity are trusted.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateOrderInput carries everything needed to place an order.
type CreateOrderInput struct {
	Actor           auth.Actor
	Items           []ItemInput
	DeliveryMethod  enums.DeliveryMethod
	PaymentMethod   enums.PaymentMethod
	DeliveryAddress *types.DeliveryAddress
	PickupLocation  *string
	ScheduledDate   *time.Time
	TimeSlot        *string
	BuyerNotes      *string
}

// UpdateStatusInput requests a fulfillment transition.
type UpdateStatusInput struct {
	OrderID     uuid.UUID
	Status      enums.OrderStatus
	Actor       auth.Actor
	Reason      *string
	FarmerNotes *string
}

// CancelInput cancels an order and returns its stock.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   auth.Actor
	Reason  *string
}
