package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/internal/orders"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/pagination"
)

const maxTxnNumberRetries = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the transaction ledger.
type Service interface {
	Create(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error)
	OpenUnlinked(ctx context.Context, input OpenUnlinkedInput) (*models.Transaction, error)
	LinkToOrder(ctx context.Context, input LinkInput) (*models.Transaction, error)
	Settle(ctx context.Context, input SettleInput) (*SettleResult, error)
	Process(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	Expire(ctx context.Context, id uuid.UUID, reason string) (*SettleResult, error)
	RecordFailureReason(ctx context.Context, id uuid.UUID, reason string) error
	AttachReference(ctx context.Context, id uuid.UUID, reference string, details json.RawMessage) (*models.Transaction, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)
	OpenRefund(ctx context.Context, input OpenRefundInput) (*models.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	View(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error)
	FindByPaymentReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Transaction, error)
	ListPendingBefore(ctx context.Context, providers []enums.PaymentProvider, cutoff time.Time, limit int) ([]models.Transaction, error)
	Stats(ctx context.Context, actor auth.Actor, period enums.StatsPeriod) (*Stats, error)
	Export(ctx context.Context, filter ExportFilter, w io.Writer) error
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error)
}

// ServiceParams wires the ledger.
type ServiceParams struct {
	Repository Repository
	Orders     orders.Repository
	Tx         txRunner
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Currency   string
	Now        func() time.Time
}

type service struct {
	repo     Repository
	orders   orders.Repository
	tx       txRunner
	outbox   outbox.Emitter
	logg     *logger.Logger
	currency string
	now      func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	currency := p.Currency
	if currency == "" {
		currency = "INR"
	}
	return &service{
		repo:     p.Repository,
		orders:   p.Orders,
		tx:       p.Tx,
		outbox:   p.Outbox,
		logg:     p.Logger,
		currency: currency,
		now:      now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !input.Actor.IsAdmin() && !input.Actor.Is(order.BuyerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	}
	if !order.PaymentStatus.Payable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}

	method := input.PaymentMethod
	if method == "" {
		method = order.PaymentMethod
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	provider := input.Provider
	if provider == "" {
		provider = method.Provider()
	}
	if !provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment provider")
	}
	if !method.SettledBy(provider) {
		return nil, providerMismatch(method, provider)
	}
	if input.AmountCents != nil && *input.AmountCents != order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must equal order total").
			WithDetails(map[string]any{"amount": *input.AmountCents, "order_total": order.TotalCents})
	}

	metadata, err := orderSnapshot(order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "snapshot order")
	}
	farmerID := order.FarmerID
	orderNumber := order.OrderNumber
	txn := &models.Transaction{
		OrderID:          &order.ID,
		OrderNumber:      &orderNumber,
		BuyerID:          order.BuyerID,
		FarmerID:         &farmerID,
		Type:             enums.TransactionTypePayment,
		AmountCents:      order.TotalCents,
		Currency:         order.Currency,
		Status:           enums.TransactionStatusPending,
		PaymentMethod:    method,
		Provider:         provider,
		PaymentReference: input.PaymentReference,
		Description:      input.Description,
		Details:          input.Details,
		Metadata:         metadata,
	}

	err = s.insert(ctx, txn, &input.Actor, func(repo Repository) error {
		existing, err := repo.FindActivePayment(ctx, order.ID)
		if err == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already has an active payment").
				WithDetails(map[string]any{"transaction_id": existing.ID, "status": existing.Status})
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check active payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, txn.ID)
}

func (s *service) OpenUnlinked(ctx context.Context, input OpenUnlinkedInput) (*models.Transaction, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Actor.Role != enums.RoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can open payments")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	provider := input.Provider
	if provider == "" {
		provider = input.PaymentMethod.Provider()
	}
	if !input.PaymentMethod.SettledBy(provider) {
		return nil, providerMismatch(input.PaymentMethod, provider)
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}

	txn := &models.Transaction{
		BuyerID:       input.Actor.UserID,
		Type:          enums.TransactionTypePayment,
		AmountCents:   input.AmountCents,
		Currency:      currency,
		Status:        enums.TransactionStatusPending,
		PaymentMethod: input.PaymentMethod,
		Provider:      provider,
		Description:   input.Description,
		Metadata:      input.Metadata,
	}
	if err := s.insert(ctx, txn, &input.Actor, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, txn.ID)
}

func (s *service) LinkToOrder(ctx context.Context, input LinkInput) (*models.Transaction, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.TransactionID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id and order id required")
	}
	txn, err := s.Get(ctx, input.TransactionID)
	if err != nil {
		return nil, err
	}
	if !input.Actor.Is(txn.BuyerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the paying buyer can link this transaction")
	}
	if txn.IsLinked() {
		if *txn.OrderID == input.OrderID {
			return txn, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is linked to another order").
			WithDetails(map[string]any{"order_id": *txn.OrderID})
	}
	if txn.Status != enums.TransactionStatusPending && txn.Status != enums.TransactionStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction can no longer be linked").
			WithDetails(map[string]any{"status": txn.Status})
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !input.Actor.Is(order.BuyerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	}
	if input.OrderNumber != "" && input.OrderNumber != order.OrderNumber {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number does not match order")
	}
	if input.FarmerID != uuid.Nil && input.FarmerID != order.FarmerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "farmer does not match order")
	}
	if txn.AmountCents != order.TotalCents || txn.Currency != order.Currency {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction amount does not match order total").
			WithDetails(map[string]any{
				"amount":      txn.AmountCents,
				"order_total": order.TotalCents,
				"currency":    order.Currency,
			})
	}

	metadata, err := orderSnapshot(order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "snapshot order")
	}
	updates := map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"farmer_id":    order.FarmerID,
		"metadata":     []byte(metadata),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if existing, err := repo.FindActivePayment(ctx, order.ID); err == nil && existing.ID != txn.ID {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already has an active payment").
				WithDetails(map[string]any{"transaction_id": existing.ID})
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check active payment")
		}

		linked, err := repo.Link(ctx, txn.ID, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link transaction")
		}
		if !linked {
			return errLinkRaced
		}
		current, err := repo.FindByID(ctx, txn.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload transaction")
		}
		if current.Status == enums.TransactionStatusCompleted {
			if _, err := s.orders.WithTx(tx).MarkPaid(ctx, order.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
			}
		}
		return s.emitPayment(ctx, tx, enums.EventTransactionLinked, current, SourceLocal, "", &input.Actor)
	})
	if errors.Is(err, errLinkRaced) {
		current, loadErr := s.Get(ctx, txn.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.IsLinked() && *current.OrderID == order.ID {
			return current, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is linked to another order")
	}
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(s.logg.WithTransactionID(ctx, txn.ID.String()), order.ID.String())
		s.logg.Info(logCtx, "transaction linked to order")
	}
	return s.Get(ctx, txn.ID)
}

var errLinkRaced = errors.New("transaction linked concurrently")

func providerMismatch(method enums.PaymentMethod, provider enums.PaymentProvider) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "payment method is not settled by provider").
		WithDetails(map[string]any{"payment_method": method, "provider": provider})
}

func (s *service) AttachReference(ctx context.Context, id uuid.UUID, reference string, details json.RawMessage) (*models.Transaction, error) {
	updates := map[string]any{"payment_reference": reference}
	if len(details) > 0 {
		updates["details"] = []byte(details)
	}
	moved, err := s.repo.UpdatePending(ctx, id, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach provider reference")
	}
	if !moved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is no longer pending")
	}
	return s.Get(ctx, id)
}

func (s *service) RecordFailureReason(ctx context.Context, id uuid.UUID, reason string) error {
	if _, err := s.repo.UpdatePending(ctx, id, map[string]any{"failure_reason": reason}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failure reason")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func (s *service) View(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error) {
	txn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(txn, actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction does not belong to user")
	}
	return txn, nil
}

func (s *service) FindByPaymentReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Transaction, error) {
	txn, err := s.repo.FindByPaymentReference(ctx, provider, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found").
				WithDetails(map[string]any{"provider": provider, "reference": reference})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction by reference")
	}
	return txn, nil
}

func (s *service) ListPendingBefore(ctx context.Context, providers []enums.PaymentProvider, cutoff time.Time, limit int) ([]models.Transaction, error) {
	rows, err := s.repo.ListPendingBefore(ctx, providers, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending transactions")
	}
	return rows, nil
}

// CanView reports whether the actor is a party to the transaction.
func CanView(txn *models.Transaction, actor auth.Actor) bool {
	return actor.IsAdmin() || actor.Is(txn.BuyerID) || actor.IsOptional(txn.FarmerID)
}

// insert assigns a txn number and persists txn with its initiated event,
// retrying when the generated number collides.
func (s *service) insert(ctx context.Context, txn *models.Transaction, actor *auth.Actor, precheck func(Repository) error) error {
	presetRef := txn.PaymentReference
	var err error
	for attempt := 0; attempt < maxTxnNumberRetries; attempt++ {
		txn.ID = uuid.Nil
		txn.TxnNumber = NewTxnNumber(s.now())
		txn.PaymentReference = presetRef
		if txn.PaymentReference == nil && txn.Provider == enums.PaymentProviderPhonePe {
			ref := MerchantTransactionID(txn.TxnNumber)
			txn.PaymentReference = &ref
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if precheck != nil {
				if err := precheck(repo); err != nil {
					return err
				}
			}
			if err := repo.Create(ctx, txn); err != nil {
				return err
			}
			return s.emitPayment(ctx, tx, enums.EventTransactionInitiated, txn, SourceLocal, "", actor)
		})
		if err == nil {
			if s.logg != nil {
				logCtx := s.logg.WithFields(s.logg.WithTransactionID(ctx, txn.ID.String()), map[string]any{
					"txn_number": txn.TxnNumber,
					"provider":   txn.Provider,
					"type":       txn.Type,
				})
				s.logg.Info(logCtx, "transaction opened")
			}
			return nil
		}
		if !db.IsUniqueViolation(err, TxnNumberConstraint) {
			if pkgerrors.As(err) != nil {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert transaction")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate transaction number")
}

func (s *service) loadOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

type snapshotItem struct {
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	Unit           string    `json:"unit"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

type orderSnapshotMeta struct {
	OrderNumber      string         `json:"order_number"`
	Items            []snapshotItem `json:"items"`
	SubtotalCents    int64          `json:"subtotal_cents"`
	DeliveryFeeCents int64          `json:"delivery_fee_cents"`
	TaxCents         int64          `json:"tax_cents"`
	TotalCents       int64          `json:"total_cents"`
}

func orderSnapshot(order *models.Order) (json.RawMessage, error) {
	items := make([]snapshotItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, snapshotItem{
			ProductID:      item.ProductID,
			Name:           item.ProductName,
			Quantity:       item.Quantity,
			Unit:           item.Unit,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
	}
	return json.Marshal(orderSnapshotMeta{
		OrderNumber:      order.OrderNumber,
		Items:            items,
		SubtotalCents:    order.SubtotalCents,
		DeliveryFeeCents: order.DeliveryFeeCents,
		TaxCents:         order.TaxCents,
		TotalCents:       order.TotalCents,
	})
}
