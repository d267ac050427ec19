package local

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/square"
)

type ledgerService interface {
	Create(ctx context.Context, input ledger.CreateTransactionInput) (*models.Transaction, error)
	View(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error)
	Process(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	AttachReference(ctx context.Context, id uuid.UUID, reference string, details json.RawMessage) (*models.Transaction, error)
}

// CardCharger charges a tokenized card.
type CardCharger interface {
	Charge(ctx context.Context, req square.ChargeRequest) (*square.Charge, error)
}

// Adapter settles cash and card payments synchronously. Card payments are
// charged through Square when a charger is configured.
type Adapter struct {
	ledger ledgerService
	cards  CardCharger
	logg   *logger.Logger
}

func NewAdapter(ledgerSvc ledgerService, cards CardCharger, logg *logger.Logger) (*Adapter, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &Adapter{ledger: ledgerSvc, cards: cards, logg: logg}, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderLocal
}

func (a *Adapter) Initiate(ctx context.Context, input payments.InitiateInput) (*payments.InitiateResult, error) {
	if input.OrderID == nil || *input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.PaymentMethod != "" && input.PaymentMethod.Provider() != enums.PaymentProviderLocal {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is not settled locally").
			WithDetails(map[string]any{"payment_method": input.PaymentMethod})
	}
	provider := enums.PaymentProviderLocal
	if input.PaymentMethod == enums.PaymentMethodCard && a.cards != nil {
		provider = enums.PaymentProviderSquare
	}
	txn, err := a.ledger.Create(ctx, ledger.CreateTransactionInput{
		OrderID:       *input.OrderID,
		Actor:         input.Actor,
		PaymentMethod: input.PaymentMethod,
		Provider:      provider,
		Description:   input.Description,
		Details:       input.Details,
	})
	if err != nil {
		return nil, err
	}
	return &payments.InitiateResult{Transaction: txn}, nil
}

// Confirm completes the payment, charging the card first when the
// transaction is owned by Square.
func (a *Adapter) Confirm(ctx context.Context, input payments.ConfirmInput) (*models.Transaction, error) {
	txn, err := a.ledger.View(ctx, input.TransactionID, input.Actor)
	if err != nil {
		return nil, err
	}
	if txn.Provider == enums.PaymentProviderSquare && txn.Status == enums.TransactionStatusPending {
		if err := a.charge(ctx, txn, input.SourceID); err != nil {
			return nil, err
		}
	}
	return a.ledger.Process(ctx, txn.ID, input.Actor)
}

func (a *Adapter) Verify(ctx context.Context, input payments.VerifyInput) (*payments.VerifyResult, error) {
	txn, err := a.ledger.View(ctx, input.TransactionID, input.Actor)
	if err != nil {
		return nil, err
	}
	return &payments.VerifyResult{Transaction: txn, Status: txn.Status}, nil
}

func (a *Adapter) charge(ctx context.Context, txn *models.Transaction, sourceID string) error {
	if a.cards == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "card processing is not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "source_id required for card payments")
	}
	charge, err := a.cards.Charge(ctx, square.ChargeRequest{
		AmountCents:    txn.AmountCents,
		Currency:       txn.Currency,
		SourceID:       sourceID,
		IdempotencyKey: txn.TxnNumber,
		ReferenceID:    txn.TxnNumber,
		Note:           "order " + deref(txn.OrderNumber),
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeProvider) {
			if _, failErr := a.ledger.Fail(ctx, txn.ID, chargeFailureReason(err)); failErr != nil {
				return failErr
			}
		}
		return err
	}

	if !charge.Completed() {
		if _, failErr := a.ledger.Fail(ctx, txn.ID, "card payment "+strings.ToLower(charge.Status)); failErr != nil {
			return failErr
		}
		return pkgerrors.New(pkgerrors.CodeProvider, "card payment was not completed").
			WithDetails(map[string]any{"status": charge.Status})
	}

	details, _ := json.Marshal(map[string]any{"square_payment_id": charge.PaymentID, "square_status": charge.Status})
	if _, err := a.ledger.AttachReference(ctx, txn.ID, charge.PaymentID, details); err != nil {
		return err
	}
	if a.logg != nil {
		a.logg.Info(a.logg.WithTransactionID(ctx, txn.ID.String()), "card charged")
	}
	return nil
}

func chargeFailureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if reason, ok := details["reason"].(string); ok && reason != "" {
				return reason
			}
		}
		return typed.Message()
	}
	return err.Error()
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
