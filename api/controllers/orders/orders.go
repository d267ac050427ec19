package orders

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/api/controllers/dto"
	"github.com/angelmondragon/farmcart-backend/api/middleware"
	"github.com/angelmondragon/farmcart-backend/api/responses"
	"github.com/angelmondragon/farmcart-backend/api/validators"
	internalorders "github.com/angelmondragon/farmcart-backend/internal/orders"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/types"
)

const (
	maxNotesLength  = 1000
	maxReasonLength = 500
	maxSlotLength   = 64
)

type createItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

type createOrderRequest struct {
	Items           []createItemRequest    `json:"items" validate:"required,min=1,dive"`
	DeliveryMethod  string                 `json:"delivery_method" validate:"required,oneof=delivery pickup"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,oneof=card cash paypal phonepe"`
	DeliveryAddress *types.DeliveryAddress `json:"delivery_address,omitempty"`
	PickupLocation  *string                `json:"pickup_location,omitempty"`
	ScheduledDate   *time.Time             `json:"scheduled_date,omitempty"`
	TimeSlot        *string                `json:"time_slot,omitempty"`
	BuyerNotes      *string                `json:"buyer_notes,omitempty"`
}

type updateStatusRequest struct {
	Status      string  `json:"status" validate:"required"`
	Reason      *string `json:"reason,omitempty"`
	FarmerNotes *string `json:"farmer_notes,omitempty"`
}

type cancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// Create places an order for the calling buyer.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]internalorders.ItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, internalorders.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		order, err := svc.Create(r.Context(), internalorders.CreateOrderInput{
			Actor:           actor,
			Items:           items,
			DeliveryMethod:  enums.DeliveryMethod(req.DeliveryMethod),
			PaymentMethod:   enums.PaymentMethod(req.PaymentMethod),
			DeliveryAddress: req.DeliveryAddress,
			PickupLocation:  sanitizeOptional(req.PickupLocation, maxNotesLength),
			ScheduledDate:   req.ScheduledDate,
			TimeSlot:        sanitizeOptional(req.TimeSlot, maxSlotLength),
			BuyerNotes:      sanitizeOptional(req.BuyerNotes, maxNotesLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewOrder(order))
	}
}

// Detail returns an order visible to its buyer, its farmer, or an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

// UpdateStatus advances fulfillment for the owning farmer or an admin.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID:     orderID,
			Status:      status,
			Actor:       actor,
			Reason:      sanitizeOptional(req.Reason, maxReasonLength),
			FarmerNotes: sanitizeOptional(req.FarmerNotes, maxNotesLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

// Cancel cancels an order and returns its reserved stock. The body is optional.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := svc.Cancel(r.Context(), internalorders.CancelInput{
			OrderID: orderID,
			Actor:   actor,
			Reason:  sanitizeOptional(req.Reason, maxReasonLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

func requireActor(r *http.Request) (auth.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return auth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return actor, nil
}

func sanitizeOptional(value *string, maxLen int) *string {
	if value == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*value, maxLen)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
