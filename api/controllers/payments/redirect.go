package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/api/controllers/dto"
	"github.com/angelmondragon/farmcart-backend/api/responses"
	"github.com/angelmondragon/farmcart-backend/api/validators"
	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	internalpayments "github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

// RedirectCapture is the approve-then-capture provider (PayPal).
type RedirectCapture interface {
	Initiate(ctx context.Context, input internalpayments.InitiateInput) (*internalpayments.InitiateResult, error)
	Confirm(ctx context.Context, input internalpayments.ConfirmInput) (*models.Transaction, error)
	Link(ctx context.Context, input ledger.LinkInput) (*models.Transaction, error)
}

type createRedirectOrderRequest struct {
	OrderID     *uuid.UUID      `json:"order_id,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	Currency    string          `json:"currency,omitempty" validate:"omitempty,currency"`
	Description *string         `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type linkRequest struct {
	OrderID     uuid.UUID  `json:"order_id" validate:"required"`
	OrderNumber string     `json:"order_number,omitempty"`
	FarmerID    *uuid.UUID `json:"farmer_id,omitempty"`
}

// CreateRedirectOrder opens a PayPal order. Without order_id the amount is
// required and the transaction is linked later.
func CreateRedirectOrder(gateway RedirectCapture, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateway == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "paypal is not configured"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createRedirectOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalpayments.InitiateInput{
			Actor:       actor,
			Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
			Description: sanitizeOptional(req.Description),
			Metadata:    req.Metadata,
		}
		if req.OrderID != nil && *req.OrderID != uuid.Nil {
			input.OrderID = req.OrderID
		}
		if strings.TrimSpace(req.Amount) != "" {
			cents, err := parseAmount(req.Amount)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.AmountCents = cents
		} else if input.OrderID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount is required without an order"))
			return
		}

		res, err := gateway.Initiate(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, paymentStart(res))
	}
}

// CaptureRedirectOrder captures an approved PayPal order for the paying buyer.
func CaptureRedirectOrder(gateway RedirectCapture, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateway == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "paypal is not configured"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reference := strings.TrimSpace(chi.URLParam(r, "providerOrderId"))
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "provider order id is required"))
			return
		}
		txn, err := gateway.Confirm(r.Context(), internalpayments.ConfirmInput{ProviderReference: reference, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransaction(txn))
	}
}

// LinkTransaction attaches a prepaid PayPal transaction to the order it paid for.
func LinkTransaction(gateway RedirectCapture, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateway == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "paypal is not configured"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req linkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := ledger.LinkInput{
			TransactionID: id,
			OrderID:       req.OrderID,
			OrderNumber:   strings.TrimSpace(req.OrderNumber),
			Actor:         actor,
		}
		if req.FarmerID != nil {
			input.FarmerID = *req.FarmerID
		}
		txn, err := gateway.Link(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransaction(txn))
	}
}
