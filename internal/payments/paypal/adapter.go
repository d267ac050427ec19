package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/internal/reconciliation"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	pp "github.com/angelmondragon/farmcart-backend/pkg/paypal"
)

type ledgerService interface {
	Create(ctx context.Context, input ledger.CreateTransactionInput) (*models.Transaction, error)
	OpenUnlinked(ctx context.Context, input ledger.OpenUnlinkedInput) (*models.Transaction, error)
	LinkToOrder(ctx context.Context, input ledger.LinkInput) (*models.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	RecordFailureReason(ctx context.Context, id uuid.UUID, reason string) error
	AttachReference(ctx context.Context, id uuid.UUID, reference string, details json.RawMessage) (*models.Transaction, error)
	FindByPaymentReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
}

// OrderClient is the PayPal Orders API surface the adapter drives.
type OrderClient interface {
	CreateOrder(ctx context.Context, req pp.CreateOrderRequest) (*pp.Order, error)
	CaptureOrder(ctx context.Context, orderID, requestID string) (*pp.Order, error)
	GetOrder(ctx context.Context, orderID string) (*pp.Order, error)
}

type applier interface {
	Apply(ctx context.Context, n reconciliation.Notification) (*reconciliation.Result, error)
}

// Adapter runs the redirect-and-capture flow: the buyer approves on PayPal,
// then the platform captures the approved order.
type Adapter struct {
	ledger ledgerService
	client OrderClient
	engine applier
	logg   *logger.Logger
}

func NewAdapter(ledgerSvc ledgerService, client OrderClient, engine applier, logg *logger.Logger) (*Adapter, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if client == nil {
		return nil, fmt.Errorf("paypal client required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	return &Adapter{ledger: ledgerSvc, client: client, engine: engine, logg: logg}, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

// Initiate opens a pending transaction and a PayPal order for it. Without
// an order id the transaction stays unlinked until Link is called.
func (a *Adapter) Initiate(ctx context.Context, input payments.InitiateInput) (*payments.InitiateResult, error) {
	txn, err := a.open(ctx, input)
	if err != nil {
		return nil, err
	}

	description := ""
	if txn.OrderNumber != nil {
		description = "FarmCart order " + *txn.OrderNumber
	}
	order, err := a.client.CreateOrder(ctx, pp.CreateOrderRequest{
		ReferenceID: txn.TxnNumber,
		InvoiceID:   txn.TxnNumber,
		CustomID:    txn.ID.String(),
		Description: description,
		AmountCents: txn.AmountCents,
		Currency:    txn.Currency,
		RequestID:   txn.TxnNumber,
	})
	if err != nil {
		if _, failErr := a.ledger.Fail(ctx, txn.ID, pp.FailureReason(err)); failErr != nil && a.logg != nil {
			a.logg.Error(a.logg.WithTransactionID(ctx, txn.ID.String()), "mark paypal initiation failed", failErr)
		}
		return nil, err
	}

	approveURL := order.ApproveURL()
	details, _ := json.Marshal(map[string]string{"paypal_status": order.Status, "approve_url": approveURL})
	txn, err = a.ledger.AttachReference(ctx, txn.ID, order.ID, details)
	if err != nil {
		return nil, err
	}
	return &payments.InitiateResult{Transaction: txn, RedirectURL: approveURL, ProviderReference: order.ID}, nil
}

func (a *Adapter) open(ctx context.Context, input payments.InitiateInput) (*models.Transaction, error) {
	if input.OrderID != nil && *input.OrderID != uuid.Nil {
		return a.ledger.Create(ctx, ledger.CreateTransactionInput{
			OrderID:       *input.OrderID,
			Actor:         input.Actor,
			PaymentMethod: enums.PaymentMethodPayPal,
			Provider:      enums.PaymentProviderPayPal,
			AmountCents:   optionalAmount(input.AmountCents),
			Description:   input.Description,
		})
	}
	return a.ledger.OpenUnlinked(ctx, ledger.OpenUnlinkedInput{
		Actor:         input.Actor,
		AmountCents:   input.AmountCents,
		Currency:      input.Currency,
		PaymentMethod: enums.PaymentMethodPayPal,
		Provider:      enums.PaymentProviderPayPal,
		Description:   input.Description,
		Metadata:      input.Metadata,
	})
}

// Confirm captures an approved PayPal order. 4xx rejections fail the
// transaction; transient failures leave it pending for another attempt.
func (a *Adapter) Confirm(ctx context.Context, input payments.ConfirmInput) (*models.Transaction, error) {
	txn, err := a.lookup(ctx, input.TransactionID, input.ProviderReference)
	if err != nil {
		return nil, err
	}
	if !input.Actor.Is(txn.BuyerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the paying buyer can capture")
	}
	if txn.PaymentReference == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "paypal order not created yet")
	}
	ref := *txn.PaymentReference
	switch txn.Status {
	case enums.TransactionStatusCompleted:
		return txn, nil
	case enums.TransactionStatusPending:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction can no longer be captured").
			WithDetails(map[string]any{"status": txn.Status})
	}

	order, err := a.client.CaptureOrder(ctx, ref, txn.TxnNumber+"-capture")
	if err != nil {
		reason := pp.FailureReason(err)
		if pp.IsRejected(err) {
			if _, applyErr := a.engine.Apply(ctx, reconciliation.Notification{
				Provider:      enums.PaymentProviderPayPal,
				TransactionID: txn.ID,
				Code:          reconciliation.CodeOrderDeclined,
				Reason:        reason,
				Source:        ledger.SourceCapture,
			}); applyErr != nil {
				return nil, applyErr
			}
			return nil, err
		}
		if recErr := a.ledger.RecordFailureReason(ctx, txn.ID, reason); recErr != nil && a.logg != nil {
			a.logg.Error(a.logg.WithTransactionID(ctx, txn.ID.String()), "record paypal capture failure", recErr)
		}
		return nil, err
	}

	code := order.Status
	var captureID *string
	if capture := order.FirstCapture(); capture != nil {
		id := capture.ID
		captureID = &id
		if capture.Status != "" {
			code = capture.Status
		}
	}
	var payerID *string
	if id := order.PayerID(); id != "" {
		payerID = &id
	}
	details, _ := json.Marshal(order)
	res, err := a.engine.Apply(ctx, reconciliation.Notification{
		Provider:      enums.PaymentProviderPayPal,
		TransactionID: txn.ID,
		Code:          code,
		Source:        ledger.SourceCapture,
		CaptureID:     captureID,
		PayerID:       payerID,
		Details:       details,
	})
	if err != nil {
		return nil, err
	}
	return res.Transaction, nil
}

// Link attaches a transaction opened before its order existed.
func (a *Adapter) Link(ctx context.Context, input ledger.LinkInput) (*models.Transaction, error) {
	return a.ledger.LinkToOrder(ctx, input)
}

// Verify compares the stored status with PayPal's view of the order.
func (a *Adapter) Verify(ctx context.Context, input payments.VerifyInput) (*payments.VerifyResult, error) {
	txn, err := a.lookup(ctx, input.TransactionID, input.ProviderReference)
	if err != nil {
		return nil, err
	}
	if !ledger.CanView(txn, input.Actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction does not belong to user")
	}
	if txn.PaymentReference == nil {
		return &payments.VerifyResult{Transaction: txn, Status: txn.Status}, nil
	}
	order, err := a.client.GetOrder(ctx, *txn.PaymentReference)
	if err != nil {
		return nil, err
	}
	return &payments.VerifyResult{
		Transaction:    txn,
		ProviderStatus: order.Status,
		Status:         reconciliation.MapProviderStatus(order.Status, txn.Status),
	}, nil
}

func (a *Adapter) lookup(ctx context.Context, id uuid.UUID, reference string) (*models.Transaction, error) {
	if ref := strings.TrimSpace(reference); ref != "" {
		return a.ledger.FindByPaymentReference(ctx, enums.PaymentProviderPayPal, ref)
	}
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id or paypal order id required")
	}
	return a.ledger.Get(ctx, id)
}

func optionalAmount(cents int64) *int64 {
	if cents <= 0 {
		return nil
	}
	return &cents
}
