package transactions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/api/controllers/dto"
	"github.com/angelmondragon/farmcart-backend/api/middleware"
	"github.com/angelmondragon/farmcart-backend/api/responses"
	"github.com/angelmondragon/farmcart-backend/api/validators"
	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/pagination"
)

const maxTextLength = 500

// Ledger is the read and refund surface of the transaction ledger.
type Ledger interface {
	View(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error)
	List(ctx context.Context, filter ledger.ListFilter, params pagination.Params) (*ledger.ListResult, error)
	Stats(ctx context.Context, actor auth.Actor, period enums.StatsPeriod) (*ledger.Stats, error)
	Export(ctx context.Context, filter ledger.ExportFilter, w io.Writer) error
	Refund(ctx context.Context, input ledger.RefundInput) (*ledger.RefundResult, error)
}

// Gateways resolves the adapter that owns a payment method or provider.
type Gateways interface {
	ForMethod(method enums.PaymentMethod) (payments.Adapter, error)
	Get(provider enums.PaymentProvider) (payments.Adapter, error)
}

type createRequest struct {
	OrderID       uuid.UUID `json:"order_id" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"omitempty,oneof=card cash"`
	Description   *string   `json:"description,omitempty"`
}

type processRequest struct {
	SourceID string `json:"source_id,omitempty"`
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Create opens a cash or card payment for an order. Without an explicit
// method the order's own method is used and must still settle locally.
func Create(gateways Gateways, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateways == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method := enums.PaymentMethod(req.PaymentMethod)
		var adapter payments.Adapter
		if method == "" {
			adapter, err = gateways.Get(enums.PaymentProviderLocal)
		} else {
			adapter, err = gateways.ForMethod(method)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID := req.OrderID
		res, err := adapter.Initiate(r.Context(), payments.InitiateInput{
			Actor:         actor,
			OrderID:       &orderID,
			PaymentMethod: method,
			Description:   sanitizeOptional(req.Description),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewTransaction(res.Transaction))
	}
}

// Detail returns a transaction to one of its parties or an admin.
func Detail(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
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
		txn, err := svc.View(r.Context(), id, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransaction(txn))
	}
}

// List pages through the caller's transactions, newest first.
func List(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, txnType, err := parseStatusAndType(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.List(r.Context(), ledger.ListFilter{
			Actor:  actor,
			Status: status,
			Type:   txnType,
		}, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransactionPage(page))
	}
}

// Stats aggregates the caller's transactions over ?period= (7d, 30d, 90d, 1y).
func Stats(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		period, err := enums.ParseStatsPeriod(strings.TrimSpace(r.URL.Query().Get("period")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stats period"))
			return
		}
		stats, err := svc.Stats(r.Context(), actor, period)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// Export streams the caller's transactions as CSV. Errors found before the
// first byte is written still produce a JSON error envelope.
func Export(svc Ledger, now func() time.Time, logg *logger.Logger) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, txnType, err := parseStatusAndType(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		buf := &strings.Builder{}
		err = svc.Export(r.Context(), ledger.ExportFilter{
			Actor:  actor,
			From:   from,
			To:     to,
			Status: status,
			Type:   txnType,
		}, buf)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filename := fmt.Sprintf("transactions-%s.csv", now().UTC().Format("20060102"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, buf.String()); err != nil && logg != nil {
			logg.Error(r.Context(), "failed to write export", err)
		}
	}
}

// Process completes a cash payment or charges a card through Square.
func Process(gateways Gateways, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gateways == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments unavailable"))
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
		var req processRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		adapter, err := gateways.Get(enums.PaymentProviderLocal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := adapter.Confirm(r.Context(), payments.ConfirmInput{
			TransactionID: id,
			SourceID:      strings.TrimSpace(req.SourceID),
			Actor:         actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransaction(txn))
	}
}

// Refund records a full refund of a completed non-async payment.
func Refund(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
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
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Refund(r.Context(), ledger.RefundInput{
			TransactionID: id,
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

func parseStatusAndType(r *http.Request) (*enums.TransactionStatus, *enums.TransactionType, error) {
	query := r.URL.Query()
	var status *enums.TransactionStatus
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		parsed, err := enums.ParseTransactionStatus(raw)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		status = &parsed
	}
	var txnType *enums.TransactionType
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		parsed, err := enums.ParseTransactionType(raw)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type filter")
		}
		txnType = &parsed
	}
	return status, txnType, nil
}

func requireActor(r *http.Request) (auth.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return auth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return actor, nil
}

func sanitizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*value, maxTextLength)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
