package enums

import "fmt"

// PaymentProvider names the gateway that owns a transaction.
type PaymentProvider string

const (
	PaymentProviderLocal   PaymentProvider = "local"
	PaymentProviderSquare  PaymentProvider = "square"
	PaymentProviderPayPal  PaymentProvider = "paypal"
	PaymentProviderPhonePe PaymentProvider = "phonepe"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderLocal,
	PaymentProviderSquare,
	PaymentProviderPayPal,
	PaymentProviderPhonePe,
}

func (p PaymentProvider) String() string {
	return string(p)
}

func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsAsync reports whether settlement arrives out of band.
func (p PaymentProvider) IsAsync() bool {
	return p == PaymentProviderPayPal || p == PaymentProviderPhonePe
}

func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}
