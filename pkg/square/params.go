package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

const defaultCurrency = "INR"

// ChargeRequest charges a tokenized card (Web Payments SDK nonce) for an
// exact amount in minor units.
type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	SourceID       string
	IdempotencyKey string
	ReferenceID    string
	Note           string
}

// Charge is the outcome Square returned for a ChargeRequest.
type Charge struct {
	PaymentID string
	Status    string
}

// Completed reports whether funds were captured or approved for capture.
func (c Charge) Completed() bool {
	return c.Status == "COMPLETED" || c.Status == "APPROVED"
}

func (r ChargeRequest) build(locationID, idempotencyKey string) *sq.CreatePaymentRequest {
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(r.Currency)))
	if currency == "" {
		currency = defaultCurrency
	}
	amount := r.AmountCents
	autocomplete := true
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       strings.TrimSpace(r.SourceID),
		AmountMoney:    &sq.Money{Amount: &amount, Currency: &currency},
		Autocomplete:   &autocomplete,
		LocationID:     optional(locationID),
		ReferenceID:    optional(r.ReferenceID),
		Note:           optional(r.Note),
	}
	return req
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
