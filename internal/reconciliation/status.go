package reconciliation

import (
	"strings"

	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Provider status codes understood by the engine.
const (
	CodePaymentSuccess  = "PAYMENT_SUCCESS"
	CodePaymentError    = "PAYMENT_ERROR"
	CodePaymentDeclined = "PAYMENT_DECLINED"
	CodePaymentPending  = "PAYMENT_PENDING"

	CodeOrderCompleted = "COMPLETED"
	CodeOrderVoided    = "VOIDED"
	CodeOrderDeclined  = "DECLINED"
)

// MapProviderStatus translates a provider status code into a ledger status.
// Codes that do not settle the transaction return current unchanged.
func MapProviderStatus(code string, current enums.TransactionStatus) enums.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case CodePaymentSuccess, CodeOrderCompleted:
		return enums.TransactionStatusCompleted
	case CodePaymentError, CodePaymentDeclined, CodeOrderVoided, CodeOrderDeclined:
		return enums.TransactionStatusFailed
	default:
		return current
	}
}
