package enums

import "fmt"

// PaymentMethod describes how a buyer intends to settle an order.
type PaymentMethod string

const (
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodPayPal  PaymentMethod = "paypal"
	PaymentMethodPhonePe PaymentMethod = "phonepe"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodCash,
	PaymentMethodPayPal,
	PaymentMethodPhonePe,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// Provider returns the gateway that settles this method.
func (p PaymentMethod) Provider() PaymentProvider {
	switch p {
	case PaymentMethodPayPal:
		return PaymentProviderPayPal
	case PaymentMethodPhonePe:
		return PaymentProviderPhonePe
	default:
		return PaymentProviderLocal
	}
}

// SettledBy reports whether provider may own a transaction paid with this
// method. Card payments are local or charged through Square.
func (p PaymentMethod) SettledBy(provider PaymentProvider) bool {
	if p == PaymentMethodCard && provider == PaymentProviderSquare {
		return true
	}
	return p.IsValid() && p.Provider() == provider
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
