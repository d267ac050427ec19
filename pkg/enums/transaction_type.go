package enums

import "fmt"

type TransactionType string

const (
	TransactionTypePayment     TransactionType = "payment"
	TransactionTypeRefund      TransactionType = "refund"
	TransactionTypeCommission  TransactionType = "commission"
	TransactionTypeDeliveryFee TransactionType = "delivery_fee"
	TransactionTypeTax         TransactionType = "tax"
)

var validTransactionTypes = []TransactionType{
	TransactionTypePayment,
	TransactionTypeRefund,
	TransactionTypeCommission,
	TransactionTypeDeliveryFee,
	TransactionTypeTax,
}

func (t TransactionType) String() string {
	return string(t)
}

func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
