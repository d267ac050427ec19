package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Transaction is a single money movement recorded in the ledger. Payment
// transactions may exist before their order does.
type Transaction struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	TxnNumber            string                  `gorm:"column:txn_number;not null;uniqueIndex:transactions_txn_number_key"`
	OrderID              *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	OrderNumber          *string                 `gorm:"column:order_number"`
	BuyerID              uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null;index"`
	FarmerID             *uuid.UUID              `gorm:"column:farmer_id;type:uuid;index"`
	Type                 enums.TransactionType   `gorm:"column:type;not null"`
	AmountCents          int64                   `gorm:"column:amount_cents;not null"`
	Currency             string                  `gorm:"column:currency;not null"`
	Status               enums.TransactionStatus `gorm:"column:status;not null;default:'pending';index"`
	PaymentMethod        enums.PaymentMethod     `gorm:"column:payment_method;not null"`
	Provider             enums.PaymentProvider   `gorm:"column:provider;not null"`
	PaymentReference     *string                 `gorm:"column:payment_reference;index"`
	CaptureID            *string                 `gorm:"column:capture_id"`
	PayerID              *string                 `gorm:"column:payer_id"`
	Description          *string                 `gorm:"column:description"`
	Details              json.RawMessage         `gorm:"column:details;type:jsonb"`
	Metadata             json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	RelatedTransactionID *uuid.UUID              `gorm:"column:related_transaction_id;type:uuid"`
	ProcessedAt          *time.Time              `gorm:"column:processed_at"`
	FailedAt             *time.Time              `gorm:"column:failed_at"`
	FailureReason        *string                 `gorm:"column:failure_reason"`
	RefundedAt           *time.Time              `gorm:"column:refunded_at"`
	RefundReason         *string                 `gorm:"column:refund_reason"`
	RefundedBy           *uuid.UUID              `gorm:"column:refunded_by;type:uuid"`
	ExpiredAt            *time.Time              `gorm:"column:expired_at"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsLinked reports whether the transaction is attached to an order.
func (t *Transaction) IsLinked() bool {
	return t != nil && t.OrderID != nil && *t.OrderID != uuid.Nil
}
