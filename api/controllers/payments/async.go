package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/api/controllers/dto"
	"github.com/angelmondragon/farmcart-backend/api/responses"
	"github.com/angelmondragon/farmcart-backend/api/validators"
	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	internalpayments "github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/internal/payments/phonepe"
	"github.com/angelmondragon/farmcart-backend/internal/reconciliation"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

// HeaderXVerify carries the callback checksum.
const HeaderXVerify = "X-VERIFY"

// AsyncGateway is the deeplink provider settled by callback or polling (PhonePe).
type AsyncGateway interface {
	Initiate(ctx context.Context, input internalpayments.InitiateInput) (*internalpayments.InitiateResult, error)
	HandleCallback(ctx context.Context, encoded, xVerify string) (*reconciliation.Result, error)
	CheckStatus(ctx context.Context, merchantTransactionID string, actor auth.Actor) (*reconciliation.Result, error)
	Refund(ctx context.Context, input phonepe.RefundInput) (*ledger.RefundResult, error)
}

type createAsyncOrderRequest struct {
	OrderID      uuid.UUID `json:"order_id" validate:"required"`
	MobileNumber string    `json:"mobile_number,omitempty" validate:"omitempty,numeric,len=10"`
	UPIID        string    `json:"upi_id,omitempty"`
	TargetApp    string    `json:"target_app,omitempty"`
	Description  *string   `json:"description,omitempty"`
}

type callbackRequest struct {
	Response string `json:"response" validate:"required"`
}

type checkStatusRequest struct {
	MerchantTransactionID string `json:"merchant_transaction_id" validate:"required"`
}

type asyncRefundRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	Amount        string    `json:"amount,omitempty"`
	Reason        string    `json:"reason" validate:"required"`
}

// CreateAsyncOrder starts a PhonePe payment and returns the deeplink.
func CreateAsyncOrder(gateway AsyncGateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateway == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "phonepe is not configured"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createAsyncOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID := req.OrderID
		res, err := gateway.Initiate(r.Context(), internalpayments.InitiateInput{
			Actor:        actor,
			OrderID:      &orderID,
			Description:  sanitizeOptional(req.Description),
			MobileNumber: strings.TrimSpace(req.MobileNumber),
			UPIID:        strings.TrimSpace(req.UPIID),
			TargetApp:    strings.TrimSpace(req.TargetApp),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, paymentStart(res))
	}
}

// Callback receives PhonePe server-to-server notifications. It is public;
// the X-VERIFY checksum is the only authentication.
func Callback(gateway AsyncGateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateway == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "phonepe is not configured"))
			return
		}
		var req callbackRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := gateway.HandleCallback(r.Context(), req.Response, r.Header.Get(HeaderXVerify))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentStatus(res))
	}
}

// CheckStatus polls PhonePe for one of the caller's transactions.
func CheckStatus(gateway AsyncGateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateway == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "phonepe is not configured"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req checkStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := gateway.CheckStatus(r.Context(), strings.TrimSpace(req.MerchantTransactionID), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentStatus(res))
	}
}

// AsyncRefund refunds a PhonePe payment in full or in part.
func AsyncRefund(gateway AsyncGateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateway == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "phonepe is not configured"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req asyncRefundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var cents int64
		if strings.TrimSpace(req.Amount) != "" {
			cents, err = parseAmount(req.Amount)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		res, err := gateway.Refund(r.Context(), phonepe.RefundInput{
			TransactionID: req.TransactionID,
			AmountCents:   cents,
			Reason:        validators.SanitizeString(req.Reason, maxTextLength),
			Actor:         actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewRefund(res))
	}
}
