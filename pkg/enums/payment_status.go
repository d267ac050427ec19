package enums

import "fmt"

// PaymentStatus is the payment view of an order, independent of fulfillment.
// pending and failed orders still accept a new payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Payable reports whether the order may start another payment attempt.
func (p PaymentStatus) Payable() bool {
	return p == PaymentStatusPending || p == PaymentStatusFailed
}

// PayableStatuses lists the statuses Payable accepts, for SQL IN filters.
func PayableStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentStatusPending, PaymentStatusFailed}
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	if p := PaymentStatus(value); p.IsValid() {
		return p, nil
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
