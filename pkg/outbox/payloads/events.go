package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// OrderCreatedEvent announces a new order and the stock it reserved.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID           `json:"order_id"`
	OrderNumber    string              `json:"order_number"`
	BuyerID        uuid.UUID           `json:"buyer_id"`
	FarmerID       uuid.UUID           `json:"farmer_id"`
	TotalCents     int64               `json:"total_cents"`
	Currency       string              `json:"currency"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	ItemCount      int                 `json:"item_count"`
	ReservedTotals map[string]int      `json:"reserved_totals,omitempty"`
}

// OrderStatusChangedEvent is emitted for every fulfillment transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	ChangedBy   *uuid.UUID        `json:"changed_by,omitempty"`
}

// OrderCancelledEvent carries the compensation applied on cancellation.
type OrderCancelledEvent struct {
	OrderID       uuid.UUID      `json:"order_id"`
	OrderNumber   string         `json:"order_number"`
	CancelledBy   uuid.UUID      `json:"cancelled_by"`
	Reason        string         `json:"reason,omitempty"`
	CancelledAt   time.Time      `json:"cancelled_at"`
	RestoredUnits map[string]int `json:"restored_units,omitempty"`
}

// PaymentEvent describes a ledger transaction state change.
type PaymentEvent struct {
	TransactionID    uuid.UUID               `json:"transaction_id"`
	TxnNumber        string                  `json:"txn_number"`
	OrderID          *uuid.UUID              `json:"order_id,omitempty"`
	BuyerID          uuid.UUID               `json:"buyer_id"`
	FarmerID         *uuid.UUID              `json:"farmer_id,omitempty"`
	Type             enums.TransactionType   `json:"type"`
	Status           enums.TransactionStatus `json:"status"`
	Provider         enums.PaymentProvider   `json:"provider"`
	PaymentMethod    enums.PaymentMethod     `json:"payment_method"`
	AmountCents      int64                   `json:"amount_cents"`
	Currency         string                  `json:"currency"`
	PaymentReference *string                 `json:"payment_reference,omitempty"`
	Source           string                  `json:"source,omitempty"`
	Reason           string                  `json:"reason,omitempty"`
	OccurredAt       time.Time               `json:"occurred_at"`
}
