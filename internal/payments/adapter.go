package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
)

// Adapter is one payment gateway integration.
type Adapter interface {
	Provider() enums.PaymentProvider
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	Confirm(ctx context.Context, input ConfirmInput) (*models.Transaction, error)
	Verify(ctx context.Context, input VerifyInput) (*VerifyResult, error)
}

// InitiateInput opens a payment. OrderID is nil for payments taken before
// the order exists; AmountCents and Currency then describe the charge.
type InitiateInput struct {
	Actor         auth.Actor
	OrderID       *uuid.UUID
	AmountCents   int64
	Currency      string
	PaymentMethod enums.PaymentMethod
	Description   *string
	Details       json.RawMessage
	Metadata      json.RawMessage

	MobileNumber string
	UPIID        string
	TargetApp    string
}

// InitiateResult is the opened transaction and where the buyer goes next.
type InitiateResult struct {
	Transaction       *models.Transaction `json:"transaction"`
	RedirectURL       string              `json:"redirect_url,omitempty"`
	ProviderReference string              `json:"provider_reference,omitempty"`
}

// ConfirmInput identifies a transaction by id or provider reference.
type ConfirmInput struct {
	TransactionID     uuid.UUID
	ProviderReference string
	SourceID          string
	Actor             auth.Actor
}

// VerifyInput selects a transaction to compare with its provider.
type VerifyInput struct {
	TransactionID     uuid.UUID
	ProviderReference string
	Actor             auth.Actor
}

// VerifyResult reports the stored and provider-side status.
type VerifyResult struct {
	Transaction    *models.Transaction     `json:"transaction"`
	ProviderStatus string                  `json:"provider_status,omitempty"`
	Status         enums.TransactionStatus `json:"status"`
}

// Registry maps providers to their adapters.
type Registry struct {
	adapters map[enums.PaymentProvider]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[enums.PaymentProvider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		p := a.Provider()
		if _, dup := r.adapters[p]; dup {
			return nil, fmt.Errorf("duplicate adapter for provider %s", p)
		}
		r.adapters[p] = a
	}
	return r, nil
}

// Get returns the adapter for provider.
func (r *Registry) Get(provider enums.PaymentProvider) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[provider]; ok {
			return a, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment provider not available").
		WithDetails(map[string]any{"provider": provider})
}

// ForMethod returns the adapter that settles method.
func (r *Registry) ForMethod(method enums.PaymentMethod) (Adapter, error) {
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	return r.Get(method.Provider())
}
