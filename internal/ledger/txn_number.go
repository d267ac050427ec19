package ledger

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	txnPrefix      = "TXN"
	merchantPrefix = "MT"
	txnDateLayout  = "20060102"
)

// NewTxnNumber returns TXN<YYYYMMDD><12 hex>, the suffix drawn from a random
// uuid so concurrent creations on the same day do not collide.
func NewTxnNumber(at time.Time) string {
	id := uuid.New()
	return txnPrefix + at.UTC().Format(txnDateLayout) + strings.ToUpper(hex.EncodeToString(id[:6]))
}

// MerchantTransactionID derives the id sent to the async gateway.
func MerchantTransactionID(txnNumber string) string {
	return merchantPrefix + strings.TrimPrefix(txnNumber, txnPrefix)
}
