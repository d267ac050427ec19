package phonepe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/internal/reconciliation"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	pg "github.com/angelmondragon/farmcart-backend/pkg/phonepe"
)

const callbackConsumer = "phonepe-callback"

type ledgerService interface {
	Create(ctx context.Context, input ledger.CreateTransactionInput) (*models.Transaction, error)
	OpenRefund(ctx context.Context, input ledger.OpenRefundInput) (*models.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	RecordFailureReason(ctx context.Context, id uuid.UUID, reason string) error
	AttachReference(ctx context.Context, id uuid.UUID, reference string, details json.RawMessage) (*models.Transaction, error)
	FindByPaymentReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	View(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error)
}

// Gateway is the PhonePe PG surface the adapter drives.
type Gateway interface {
	Pay(ctx context.Context, req pg.PayRequest) (*pg.Response, error)
	Refund(ctx context.Context, req pg.RefundRequest) (*pg.Response, error)
	Status(ctx context.Context, merchantTransactionID string) (*pg.Response, error)
}

type reconciler interface {
	Apply(ctx context.Context, n reconciliation.Notification) (*reconciliation.Result, error)
	RejectChecksum(ctx context.Context, provider enums.PaymentProvider, source string) error
}

type verifier interface {
	Verify(encoded, path, supplied string) bool
}

// CallbackGuard suppresses replayed callbacks.
type CallbackGuard interface {
	CheckAndMarkKey(ctx context.Context, consumer, id string) (bool, error)
	DeleteKey(ctx context.Context, consumer, id string) error
}

// AdapterParams wires the PhonePe adapter. Guard is optional.
type AdapterParams struct {
	Ledger   ledgerService
	Gateway  Gateway
	Engine   reconciler
	Verifier verifier
	Guard    CallbackGuard
	Logger   *logger.Logger
}

// Adapter settles UPI payments through webhook callbacks and status polls.
// Both paths funnel through the reconciliation engine so whichever lands
// first wins.
type Adapter struct {
	ledger   ledgerService
	gateway  Gateway
	engine   reconciler
	verifier verifier
	guard    CallbackGuard
	logg     *logger.Logger
}

func NewAdapter(p AdapterParams) (*Adapter, error) {
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("phonepe gateway required")
	}
	if p.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	if p.Verifier == nil {
		return nil, fmt.Errorf("checksum verifier required")
	}
	return &Adapter{
		ledger:   p.Ledger,
		gateway:  p.Gateway,
		engine:   p.Engine,
		verifier: p.Verifier,
		guard:    p.Guard,
		logg:     p.Logger,
	}, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPhonePe
}

func (a *Adapter) Initiate(ctx context.Context, input payments.InitiateInput) (*payments.InitiateResult, error) {
	if input.OrderID == nil || *input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	txn, err := a.ledger.Create(ctx, ledger.CreateTransactionInput{
		OrderID:       *input.OrderID,
		Actor:         input.Actor,
		PaymentMethod: enums.PaymentMethodPhonePe,
		Provider:      enums.PaymentProviderPhonePe,
		Description:   input.Description,
	})
	if err != nil {
		return nil, err
	}
	if txn.PaymentReference == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "phonepe transaction has no merchant reference")
	}
	mtid := *txn.PaymentReference

	resp, err := a.gateway.Pay(ctx, pg.PayRequest{
		MerchantTransactionID: mtid,
		MerchantUserID:        merchantUserID(txn.BuyerID),
		AmountPaise:           txn.AmountCents,
		MobileNumber:          input.MobileNumber,
		UPIID:                 input.UPIID,
		TargetApp:             input.TargetApp,
	})
	if err != nil {
		if _, failErr := a.ledger.Fail(ctx, txn.ID, failureReason(resp, err)); failErr != nil && a.logg != nil {
			a.logg.Error(a.logg.WithTransactionID(ctx, txn.ID.String()), "mark phonepe initiation failed", failErr)
		}
		return nil, err
	}

	redirect := resp.RedirectURL()
	details, _ := json.Marshal(map[string]any{
		"redirect_url":   redirect,
		"provider_code":  resp.Code,
		"transaction_id": resp.Data.TransactionID,
	})
	txn, err = a.ledger.AttachReference(ctx, txn.ID, mtid, details)
	if err != nil {
		return nil, err
	}
	return &payments.InitiateResult{Transaction: txn, RedirectURL: redirect, ProviderReference: mtid}, nil
}

// Confirm polls the gateway once and returns the reconciled transaction.
func (a *Adapter) Confirm(ctx context.Context, input payments.ConfirmInput) (*models.Transaction, error) {
	res, _, err := a.check(ctx, input.TransactionID, input.ProviderReference, input.Actor)
	if err != nil {
		return nil, err
	}
	return res.Transaction, nil
}

func (a *Adapter) Verify(ctx context.Context, input payments.VerifyInput) (*payments.VerifyResult, error) {
	res, code, err := a.check(ctx, input.TransactionID, input.ProviderReference, input.Actor)
	if err != nil {
		return nil, err
	}
	return &payments.VerifyResult{Transaction: res.Transaction, ProviderStatus: code, Status: res.Transaction.Status}, nil
}

// CheckStatus is the client-driven poll for a merchant transaction id.
func (a *Adapter) CheckStatus(ctx context.Context, merchantTransactionID string, actor auth.Actor) (*reconciliation.Result, error) {
	res, _, err := a.check(ctx, uuid.Nil, merchantTransactionID, actor)
	return res, err
}

func (a *Adapter) check(ctx context.Context, id uuid.UUID, reference string, actor auth.Actor) (*reconciliation.Result, string, error) {
	var (
		txn *models.Transaction
		err error
	)
	if ref := strings.TrimSpace(reference); ref != "" {
		txn, err = a.ledger.FindByPaymentReference(ctx, enums.PaymentProviderPhonePe, ref)
	} else if id != uuid.Nil {
		txn, err = a.ledger.Get(ctx, id)
	} else {
		err = pkgerrors.New(pkgerrors.CodeValidation, "merchant transaction id required")
	}
	if err != nil {
		return nil, "", err
	}
	if !ledger.CanView(txn, actor) {
		return nil, "", pkgerrors.New(pkgerrors.CodeForbidden, "transaction does not belong to user")
	}
	return a.poll(ctx, txn)
}

// PollStatus reconciles txn against the gateway's status endpoint. The
// expiry job calls it before giving up on a pending payment.
func (a *Adapter) PollStatus(ctx context.Context, txn *models.Transaction) (*reconciliation.Result, error) {
	res, _, err := a.poll(ctx, txn)
	return res, err
}

func (a *Adapter) poll(ctx context.Context, txn *models.Transaction) (*reconciliation.Result, string, error) {
	if txn.Provider != enums.PaymentProviderPhonePe || txn.PaymentReference == nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "transaction is not a phonepe payment")
	}
	resp, err := a.gateway.Status(ctx, *txn.PaymentReference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeChecksum) {
			return nil, "", a.engine.RejectChecksum(ctx, enums.PaymentProviderPhonePe, ledger.SourcePoll)
		}
		return nil, "", err
	}
	res, err := a.engine.Apply(ctx, reconciliation.Notification{
		Provider:      enums.PaymentProviderPhonePe,
		TransactionID: txn.ID,
		Code:          resp.Code,
		Source:        ledger.SourcePoll,
		Details:       resp.Raw,
	})
	if err != nil {
		return nil, "", err
	}
	return res, resp.Code, nil
}

// HandleCallback applies a server-to-server notification. The checksum is
// verified over the raw base64 body before anything is decoded; a mismatch
// mutates nothing.
func (a *Adapter) HandleCallback(ctx context.Context, encoded, xVerify string) (*reconciliation.Result, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback response required")
	}
	if !a.verifier.Verify(encoded, "", strings.TrimSpace(xVerify)) {
		return nil, a.engine.RejectChecksum(ctx, enums.PaymentProviderPhonePe, ledger.SourceWebhook)
	}
	resp, err := pg.DecodeCallback(encoded)
	if err != nil {
		return nil, err
	}
	mtid := strings.TrimSpace(resp.Data.MerchantTransactionID)
	if mtid == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback has no merchant transaction id")
	}

	guardKey := mtid + ":" + resp.Code
	if a.guard != nil {
		seen, err := a.guard.CheckAndMarkKey(ctx, callbackConsumer, guardKey)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check callback idempotency")
		}
		if seen {
			txn, err := a.ledger.FindByPaymentReference(ctx, enums.PaymentProviderPhonePe, mtid)
			if err != nil {
				return nil, err
			}
			return &reconciliation.Result{Transaction: txn, Outcome: reconciliation.OutcomeNoop}, nil
		}
	}

	res, err := a.engine.Apply(ctx, reconciliation.Notification{
		Provider:  enums.PaymentProviderPhonePe,
		Reference: mtid,
		Code:      resp.Code,
		Source:    ledger.SourceWebhook,
		Details:   resp.Raw,
	})
	if err != nil {
		if a.guard != nil {
			if delErr := a.guard.DeleteKey(ctx, callbackConsumer, guardKey); delErr != nil && a.logg != nil {
				a.logg.Warn(a.logg.WithField(ctx, "error", delErr.Error()), "release phonepe callback guard failed")
			}
		}
		return nil, err
	}
	return res, nil
}

// RefundInput refunds a settled PhonePe payment. Zero AmountCents refunds
// the full amount.
type RefundInput struct {
	TransactionID uuid.UUID
	AmountCents   int64
	Reason        string
	Actor         auth.Actor
}

// Refund opens a pending refund and submits it to the gateway. The refund
// stays pending when the gateway has not settled it yet or is unreachable.
func (a *Adapter) Refund(ctx context.Context, input RefundInput) (*ledger.RefundResult, error) {
	original, err := a.ledger.View(ctx, input.TransactionID, input.Actor)
	if err != nil {
		return nil, err
	}
	if original.Provider != enums.PaymentProviderPhonePe || original.PaymentReference == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction is not a phonepe payment").
			WithDetails(map[string]any{"provider": original.Provider})
	}
	amount := input.AmountCents
	if amount == 0 {
		amount = original.AmountCents
	}
	refund, err := a.ledger.OpenRefund(ctx, ledger.OpenRefundInput{
		OriginalID:  original.ID,
		AmountCents: amount,
		Reason:      input.Reason,
		Actor:       input.Actor,
	})
	if err != nil {
		return nil, err
	}
	if refund.PaymentReference == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund has no merchant reference")
	}

	resp, err := a.gateway.Refund(ctx, pg.RefundRequest{
		MerchantTransactionID:         *refund.PaymentReference,
		OriginalMerchantTransactionID: *original.PaymentReference,
		MerchantUserID:                merchantUserID(original.BuyerID),
		AmountPaise:                   refund.AmountCents,
	})
	if err != nil {
		if recErr := a.ledger.RecordFailureReason(ctx, refund.ID, failureReason(resp, err)); recErr != nil && a.logg != nil {
			a.logg.Error(a.logg.WithTransactionID(ctx, refund.ID.String()), "record phonepe refund failure", recErr)
		}
		return nil, err
	}

	n := reconciliation.Notification{
		Provider:      enums.PaymentProviderPhonePe,
		TransactionID: refund.ID,
		Code:          resp.Code,
		Source:        ledger.SourceRefund,
		Details:       resp.Raw,
		Actor:         &input.Actor,
	}
	if !resp.Success {
		n.Code = reconciliation.CodePaymentError
		n.Reason = resp.Code
	}
	if _, err := a.engine.Apply(ctx, n); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "phonepe refund rejected").
			WithDetails(map[string]any{"reason": resp.Code, "message": resp.Message})
	}

	current, err := a.ledger.Get(ctx, refund.ID)
	if err != nil {
		return nil, err
	}
	paid, err := a.ledger.Get(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	return &ledger.RefundResult{Original: paid, Refund: current}, nil
}

// merchantUserID is the buyer id without hyphens; the gateway rejects them.
func merchantUserID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func failureReason(resp *pg.Response, err error) string {
	if resp != nil && resp.Code != "" {
		return resp.Code
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}
