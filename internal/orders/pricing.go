package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Pricer computes order totals from trusted line prices.
type Pricer struct {
	taxRate     decimal.Decimal
	deliveryFee int64
	currency    string
}

// Totals are the amounts written onto an order, in minor units.
type Totals struct {
	Subtotal    int64
	DeliveryFee int64
	Tax         int64
	Total       int64
}

func NewPricer(cfg config.PricingConfig) (*Pricer, error) {
	rate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return nil, fmt.Errorf("parse tax rate %q: %w", cfg.TaxRate, err)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("tax rate must be non-negative")
	}
	return &Pricer{taxRate: rate, deliveryFee: cfg.DeliveryFeeCents, currency: cfg.Currency}, nil
}

func (p *Pricer) Currency() string {
	return p.currency
}

// Price sums the line totals and applies fee and tax. Tax rounds half up to
// the nearest minor unit.
func (p *Pricer) Price(lineTotals []int64, method enums.DeliveryMethod) Totals {
	var subtotal int64
	for _, lt := range lineTotals {
		subtotal += lt
	}
	fee := int64(0)
	if method == enums.DeliveryMethodDelivery {
		fee = p.deliveryFee
	}
	tax := decimal.NewFromInt(subtotal).Mul(p.taxRate).Round(0).IntPart()
	return Totals{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Tax:         tax,
		Total:       subtotal + fee + tax,
	}
}
