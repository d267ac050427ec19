package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Order is the API view of an order and its line items.
type Order struct {
	ID                 uuid.UUID            `json:"id"`
	OrderNumber        string               `json:"order_number"`
	BuyerID            uuid.UUID            `json:"buyer_id"`
	FarmerID           uuid.UUID            `json:"farmer_id"`
	Status             enums.OrderStatus    `json:"status"`
	PaymentStatus      enums.PaymentStatus  `json:"payment_status"`
	PaymentMethod      enums.PaymentMethod  `json:"payment_method"`
	DeliveryMethod     enums.DeliveryMethod `json:"delivery_method"`
	DeliveryAddress    json.RawMessage      `json:"delivery_address,omitempty"`
	PickupLocation     *string              `json:"pickup_location,omitempty"`
	ScheduledDate      *time.Time           `json:"scheduled_date,omitempty"`
	TimeSlot           *string              `json:"time_slot,omitempty"`
	SubtotalCents      int64                `json:"subtotal_cents"`
	DeliveryFeeCents   int64                `json:"delivery_fee_cents"`
	TaxCents           int64                `json:"tax_cents"`
	TotalCents         int64                `json:"total_cents"`
	Total              string               `json:"total"`
	Currency           string               `json:"currency"`
	BuyerNotes         *string              `json:"buyer_notes,omitempty"`
	FarmerNotes        *string              `json:"farmer_notes,omitempty"`
	CancellationReason *string              `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time           `json:"cancelled_at,omitempty"`
	DeliveredAt        *time.Time           `json:"delivered_at,omitempty"`
	Items              []OrderItem          `json:"items"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// OrderItem is one priced line of an order.
type OrderItem struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Unit           string    `json:"unit"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// Transaction is the API view of a ledger row.
type Transaction struct {
	ID                   uuid.UUID               `json:"id"`
	TxnNumber            string                  `json:"txn_number"`
	OrderID              *uuid.UUID              `json:"order_id,omitempty"`
	OrderNumber          *string                 `json:"order_number,omitempty"`
	BuyerID              uuid.UUID               `json:"buyer_id"`
	FarmerID             *uuid.UUID              `json:"farmer_id,omitempty"`
	Type                 enums.TransactionType   `json:"type"`
	Status               enums.TransactionStatus `json:"status"`
	AmountCents          int64                   `json:"amount_cents"`
	Amount               string                  `json:"amount"`
	Currency             string                  `json:"currency"`
	PaymentMethod        enums.PaymentMethod     `json:"payment_method"`
	Provider             enums.PaymentProvider   `json:"provider"`
	PaymentReference     *string                 `json:"payment_reference,omitempty"`
	CaptureID            *string                 `json:"capture_id,omitempty"`
	Description          *string                 `json:"description,omitempty"`
	RelatedTransactionID *uuid.UUID              `json:"related_transaction_id,omitempty"`
	FailureReason        *string                 `json:"failure_reason,omitempty"`
	RefundReason         *string                 `json:"refund_reason,omitempty"`
	ProcessedAt          *time.Time              `json:"processed_at,omitempty"`
	FailedAt             *time.Time              `json:"failed_at,omitempty"`
	RefundedAt           *time.Time              `json:"refunded_at,omitempty"`
	ExpiredAt            *time.Time              `json:"expired_at,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

// TransactionPage is one page of the transaction listing.
type TransactionPage struct {
	Items      []Transaction `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Refund pairs a refund with the payment it reverses.
type Refund struct {
	Original Transaction `json:"original"`
	Refund   Transaction `json:"refund"`
}

// PaymentStart tells the client where to send the buyer.
type PaymentStart struct {
	Transaction       Transaction `json:"transaction"`
	RedirectURL       string      `json:"redirect_url,omitempty"`
	ProviderReference string      `json:"provider_reference,omitempty"`
}

// PaymentStatus reports a transaction after a provider round trip.
type PaymentStatus struct {
	Transaction    Transaction `json:"transaction"`
	ProviderStatus string      `json:"provider_status,omitempty"`
	Outcome        string      `json:"outcome,omitempty"`
	Applied        bool        `json:"applied"`
}

func NewOrder(o *models.Order) Order {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItem{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Unit:           item.Unit,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
	}
	return Order{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		BuyerID:            o.BuyerID,
		FarmerID:           o.FarmerID,
		Status:             o.Status,
		PaymentStatus:      o.PaymentStatus,
		PaymentMethod:      o.PaymentMethod,
		DeliveryMethod:     o.DeliveryMethod,
		DeliveryAddress:    o.DeliveryAddress,
		PickupLocation:     o.PickupLocation,
		ScheduledDate:      o.ScheduledDate,
		TimeSlot:           o.TimeSlot,
		SubtotalCents:      o.SubtotalCents,
		DeliveryFeeCents:   o.DeliveryFeeCents,
		TaxCents:           o.TaxCents,
		TotalCents:         o.TotalCents,
		Total:              ledger.FormatAmount(o.TotalCents),
		Currency:           o.Currency,
		BuyerNotes:         o.BuyerNotes,
		FarmerNotes:        o.FarmerNotes,
		CancellationReason: o.CancellationReason,
		CancelledAt:        o.CancelledAt,
		DeliveredAt:        o.DeliveredAt,
		Items:              items,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func NewTransaction(t *models.Transaction) Transaction {
	return Transaction{
		ID:                   t.ID,
		TxnNumber:            t.TxnNumber,
		OrderID:              t.OrderID,
		OrderNumber:          t.OrderNumber,
		BuyerID:              t.BuyerID,
		FarmerID:             t.FarmerID,
		Type:                 t.Type,
		Status:               t.Status,
		AmountCents:          t.AmountCents,
		Amount:               ledger.FormatAmount(t.AmountCents),
		Currency:             t.Currency,
		PaymentMethod:        t.PaymentMethod,
		Provider:             t.Provider,
		PaymentReference:     t.PaymentReference,
		CaptureID:            t.CaptureID,
		Description:          t.Description,
		RelatedTransactionID: t.RelatedTransactionID,
		FailureReason:        t.FailureReason,
		RefundReason:         t.RefundReason,
		ProcessedAt:          t.ProcessedAt,
		FailedAt:             t.FailedAt,
		RefundedAt:           t.RefundedAt,
		ExpiredAt:            t.ExpiredAt,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func NewTransactionPage(page *ledger.ListResult) TransactionPage {
	items := make([]Transaction, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, NewTransaction(&page.Items[i]))
	}
	return TransactionPage{Items: items, NextCursor: page.NextCursor}
}

func NewRefund(res *ledger.RefundResult) Refund {
	return Refund{Original: NewTransaction(res.Original), Refund: NewTransaction(res.Refund)}
}
