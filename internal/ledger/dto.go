package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Settlement sources recorded on events and metrics.
const (
	SourceLocal   = "local"
	SourceCapture = "capture"
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceExpiry  = "expiry"
	SourceRefund  = "refund"
)

// CreateTransactionInput opens a payment against an existing order.
type CreateTransactionInput struct {
	OrderID          uuid.UUID
	Actor            auth.Actor
	PaymentMethod    enums.PaymentMethod
	Provider         enums.PaymentProvider
	AmountCents      *int64
	Description      *string
	PaymentReference *string
	Details          json.RawMessage
}

// OpenUnlinkedInput opens a payment before its order exists.
type OpenUnlinkedInput struct {
	Actor         auth.Actor
	AmountCents   int64
	Currency      string
	PaymentMethod enums.PaymentMethod
	Provider      enums.PaymentProvider
	Description   *string
	Metadata      json.RawMessage
}

// LinkInput attaches a transaction opened without an order.
type LinkInput struct {
	TransactionID uuid.UUID
	OrderID       uuid.UUID
	OrderNumber   string
	FarmerID      uuid.UUID
	Actor         auth.Actor
}

// SettleInput moves a pending transaction to a terminal status.
type SettleInput struct {
	TransactionID uuid.UUID
	To            enums.TransactionStatus
	Source        string
	Reason        string
	CaptureID     *string
	PayerID       *string
	Details       json.RawMessage
	Actor         *auth.Actor
}

// SettleResult reports whether this call performed the transition.
type SettleResult struct {
	Transaction *models.Transaction
	Applied     bool
}

// RefundInput refunds a completed payment in full.
type RefundInput struct {
	TransactionID uuid.UUID
	Reason        string
	Actor         auth.Actor
}

// OpenRefundInput creates a pending refund settled later by a provider.
type OpenRefundInput struct {
	OriginalID       uuid.UUID
	AmountCents      int64
	Reason           string
	Actor            auth.Actor
	PaymentReference string
}

// RefundResult pairs the refunded payment with its refund record.
type RefundResult struct {
	Original *models.Transaction
	Refund   *models.Transaction
}

// StatusTotal is one row of the stats aggregation.
type StatusTotal struct {
	Status      enums.TransactionStatus `json:"status"`
	Count       int64                   `json:"count"`
	AmountCents int64                   `json:"amount_cents"`
}

// Stats summarizes a user's transactions over a rolling window.
type Stats struct {
	Period      enums.StatsPeriod `json:"period"`
	Since       time.Time         `json:"since"`
	ByStatus    []StatusTotal     `json:"by_status"`
	TotalCount  int64             `json:"total_count"`
	TotalAmount int64             `json:"total_amount_cents"`
}

// ExportFilter narrows the CSV export. OwnerID is nil for admins.
type ExportFilter struct {
	Actor   auth.Actor
	OwnerID *uuid.UUID
	From    *time.Time
	To      *time.Time
	Status  *enums.TransactionStatus
	Type    *enums.TransactionType
}

// ListFilter narrows the paginated listing. OwnerID is nil for admins.
type ListFilter struct {
	Actor   auth.Actor
	OwnerID *uuid.UUID
	Status  *enums.TransactionStatus
	Type    *enums.TransactionType
}

// ListResult is one page of transactions.
type ListResult struct {
	Items      []models.Transaction `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}
