package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Order is a buyer's purchase from a single farmer. Amounts are minor units.
type Order struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber        string               `gorm:"column:order_number;not null;uniqueIndex:orders_order_number_key"`
	BuyerID            uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null;index"`
	FarmerID           uuid.UUID            `gorm:"column:farmer_id;type:uuid;not null;index"`
	SubtotalCents      int64                `gorm:"column:subtotal_cents;not null"`
	DeliveryFeeCents   int64                `gorm:"column:delivery_fee_cents;not null;default:0"`
	TaxCents           int64                `gorm:"column:tax_cents;not null;default:0"`
	TotalCents         int64                `gorm:"column:total_cents;not null"`
	Currency           string               `gorm:"column:currency;not null"`
	Status             enums.OrderStatus    `gorm:"column:status;not null;default:'pending'"`
	PaymentStatus      enums.PaymentStatus  `gorm:"column:payment_status;not null;default:'pending'"`
	PaymentMethod      enums.PaymentMethod  `gorm:"column:payment_method;not null"`
	DeliveryMethod     enums.DeliveryMethod `gorm:"column:delivery_method;not null"`
	DeliveryAddress    json.RawMessage      `gorm:"column:delivery_address;type:jsonb"`
	PickupLocation     *string              `gorm:"column:pickup_location"`
	ScheduledDate      *time.Time           `gorm:"column:scheduled_date"`
	TimeSlot           *string              `gorm:"column:time_slot"`
	BuyerNotes         *string              `gorm:"column:buyer_notes"`
	FarmerNotes        *string              `gorm:"column:farmer_notes"`
	CancellationReason *string              `gorm:"column:cancellation_reason"`
	CancelledBy        *uuid.UUID           `gorm:"column:cancelled_by;type:uuid"`
	CancelledAt        *time.Time           `gorm:"column:cancelled_at"`
	DeliveredAt        *time.Time           `gorm:"column:delivered_at"`
	Items              []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderItem snapshots the product at order time.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductName    string    `gorm:"column:product_name;not null"`
	Unit           string    `gorm:"column:unit;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	LineTotalCents int64     `gorm:"column:line_total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
