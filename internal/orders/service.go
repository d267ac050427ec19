package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/internal/catalog"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the order manager.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
}

// ServiceParams wires the order manager.
type ServiceParams struct {
	Repository  Repository
	Tx          txRunner
	Compensator *catalog.Compensator
	Outbox      outbox.Emitter
	Numbers     *NumberGenerator
	Pricer      *Pricer
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	stock   *catalog.Compensator
	outbox  outbox.Emitter
	numbers *NumberGenerator
	pricer  *Pricer
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Compensator == nil {
		return nil, fmt.Errorf("inventory compensator required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Numbers == nil {
		return nil, fmt.Errorf("order number generator required")
	}
	if p.Pricer == nil {
		return nil, fmt.Errorf("pricer required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    p.Repository,
		tx:      p.Tx,
		stock:   p.Compensator,
		outbox:  p.Outbox,
		numbers: p.Numbers,
		pricer:  p.Pricer,
		logg:    p.Logger,
		now:     now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Actor.Role != enums.RoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can place orders")
	}
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	var order *models.Order
	var err error
	for attempt := 0; attempt < maxNumberRetries; attempt++ {
		order, err = s.createOnce(ctx, input, attempt)
		if err == nil {
			break
		}
		if !db.IsUniqueViolation(err, OrderNumberConstraint) {
			return nil, err
		}
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt+1), "order number collision, retrying")
		}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate order number")
	}

	created, err := s.repo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, created.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "order_number", created.OrderNumber), "order created")
	}
	return created, nil
}

func (s *service) createOnce(ctx context.Context, input CreateOrderInput, attempt int) (*models.Order, error) {
	now := s.now().UTC()
	number, err := s.numbers.Next(ctx, now, attempt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generate order number")
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products, err := s.stock.Repository(tx).FindProductsByIDs(ctx, productIDs(input.Items))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}

		built, lines, err := s.buildOrder(input, products)
		if err != nil {
			return err
		}
		built.OrderNumber = number

		if err := s.repo.WithTx(tx).Create(ctx, built); err != nil {
			if db.IsUniqueViolation(err, OrderNumberConstraint) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert order")
		}
		if err := s.stock.ReserveAll(ctx, tx, lines); err != nil {
			return err
		}

		reserved := make(map[string]int, len(lines))
		for _, line := range lines {
			reserved[line.ProductID.String()] += line.Qty
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   built.ID,
			Actor:         actorRef(input.Actor),
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:        built.ID,
				OrderNumber:    built.OrderNumber,
				BuyerID:        built.BuyerID,
				FarmerID:       built.FarmerID,
				TotalCents:     built.TotalCents,
				Currency:       built.Currency,
				PaymentMethod:  built.PaymentMethod,
				ItemCount:      len(built.Items),
				ReservedTotals: reserved,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
		}
		order = built
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) buildOrder(input CreateOrderInput, products map[uuid.UUID]models.Product) (*models.Order, []catalog.Line, error) {
	var farmerID uuid.UUID
	items := make([]models.OrderItem, 0, len(input.Items))
	lineTotals := make([]int64, 0, len(input.Items))
	lines := make([]catalog.Line, 0, len(input.Items))

	for _, item := range input.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if !product.IsAvailable {
			return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "product is not available").
				WithDetails(map[string]any{"product_id": product.ID})
		}
		if item.Quantity < product.MinimumOrder || (product.MaximumOrder > 0 && item.Quantity > product.MaximumOrder) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity outside allowed range").
				WithDetails(map[string]any{
					"product_id": product.ID,
					"quantity":   item.Quantity,
					"minimum":    product.MinimumOrder,
					"maximum":    product.MaximumOrder,
				})
		}
		if farmerID == uuid.Nil {
			farmerID = product.FarmerID
		} else if product.FarmerID != farmerID {
			return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "items must be from one farmer")
		}

		lineTotal := product.PriceCents * int64(item.Quantity)
		items = append(items, models.OrderItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Unit:           product.Unit,
			Quantity:       item.Quantity,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: lineTotal,
		})
		lineTotals = append(lineTotals, lineTotal)
		lines = append(lines, catalog.Line{ProductID: product.ID, Qty: item.Quantity})
	}

	totals := s.pricer.Price(lineTotals, input.DeliveryMethod)

	var address json.RawMessage
	if input.DeliveryMethod == enums.DeliveryMethodDelivery && input.DeliveryAddress != nil {
		raw, err := json.Marshal(input.DeliveryAddress)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery address")
		}
		address = raw
	}
	var pickup *string
	if input.DeliveryMethod == enums.DeliveryMethodPickup {
		pickup = input.PickupLocation
	}

	return &models.Order{
		BuyerID:          input.Actor.UserID,
		FarmerID:         farmerID,
		SubtotalCents:    totals.Subtotal,
		DeliveryFeeCents: totals.DeliveryFee,
		TaxCents:         totals.Tax,
		TotalCents:       totals.Total,
		Currency:         s.pricer.Currency(),
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusPending,
		PaymentMethod:    input.PaymentMethod,
		DeliveryMethod:   input.DeliveryMethod,
		DeliveryAddress:  address,
		PickupLocation:   pickup,
		ScheduledDate:    input.ScheduledDate,
		TimeSlot:         input.TimeSlot,
		BuyerNotes:       input.BuyerNotes,
		Items:            items,
	}, lines, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Is(order.BuyerID) && !actor.Is(order.FarmerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	return s.UpdateStatus(ctx, UpdateStatusInput{
		OrderID: input.OrderID,
		Status:  enums.OrderStatusCancelled,
		Actor:   input.Actor,
		Reason:  input.Reason,
	})
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": input.Status})
	}

	order, err := s.load(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTransition(order, input.Status, input.Actor); err != nil {
		return nil, err
	}
	if order.Status == input.Status {
		return order, nil
	}
	if !CanTransition(order.Status, input.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
			WithDetails(map[string]any{"from": order.Status, "to": input.Status})
	}

	now := s.now().UTC()
	from := order.Status
	updates := map[string]any{}
	if input.FarmerNotes != nil {
		updates["farmer_notes"] = *input.FarmerNotes
	}
	switch input.Status {
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
		updates["cancelled_by"] = input.Actor.UserID
		if input.Reason != nil {
			updates["cancellation_reason"] = strings.TrimSpace(*input.Reason)
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, from, input.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
				WithDetails(map[string]any{"expected": from, "to": input.Status})
		}

		actor := actorRef(input.Actor)
		changedBy := input.Actor.UserID
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderStatusChangedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				From:        from,
				To:          input.Status,
				ChangedBy:   &changedBy,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status change")
		}

		if input.Status != enums.OrderStatusCancelled {
			return nil
		}

		lines := make([]catalog.Line, 0, len(order.Items))
		restored := make(map[string]int, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, catalog.Line{ProductID: item.ProductID, Qty: item.Quantity})
			restored[item.ProductID.String()] += item.Quantity
		}
		if err := s.stock.RestoreAll(ctx, tx, lines); err != nil {
			return err
		}

		reason := ""
		if input.Reason != nil {
			reason = strings.TrimSpace(*input.Reason)
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderCancelledEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CancelledBy:   input.Actor.UserID,
				Reason:        reason,
				CancelledAt:   now,
				RestoredUnits: restored,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order cancelled")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
			"from": from,
			"to":   input.Status,
		})
		s.logg.Info(logCtx, "order status changed")
	}
	return s.load(ctx, order.ID)
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func authorizeTransition(order *models.Order, to enums.OrderStatus, actor auth.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	switch {
	case actor.Role == enums.RoleFarmer && actor.Is(order.FarmerID):
		return nil
	case actor.Role == enums.RoleBuyer && actor.Is(order.BuyerID):
		if to == enums.OrderStatusCancelled {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "buyers can only cancel orders")
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
}

func validateCreate(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if _, dup := seen[item.ProductID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate product in order").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		seen[item.ProductID] = struct{}{}
	}
	if !input.DeliveryMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery method")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	if input.DeliveryMethod == enums.DeliveryMethodDelivery && input.DeliveryAddress == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery address required for delivery orders")
	}
	return nil
}

func productIDs(items []ItemInput) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func actorRef(actor auth.Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}
