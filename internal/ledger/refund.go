package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
)

// Refund records a full refund of a completed payment that needs no
// provider round trip. The refund row is written already completed.
func (s *service) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	original, err := s.refundable(ctx, input.TransactionID, input.Actor)
	if err != nil {
		return nil, err
	}
	if original.Provider == enums.PaymentProviderPhonePe {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund this payment through its provider").
			WithDetails(map[string]any{"provider": original.Provider})
	}

	now := s.now().UTC()
	reason := strings.TrimSpace(input.Reason)
	refund := newRefund(original, original.AmountCents, reason, input.Actor)
	refund.Status = enums.TransactionStatusCompleted
	refund.ProcessedAt = &now

	var txErr error
	for attempt := 0; attempt < maxTxnNumberRetries; attempt++ {
		refund.ID = uuid.Nil
		refund.TxnNumber = NewTxnNumber(now)
		txErr = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
				return err
			}
			return s.completeRefundTx(ctx, tx, refund, now, SourceRefund)
		})
		if txErr == nil || !db.IsUniqueViolation(txErr, TxnNumberConstraint) {
			break
		}
	}
	if txErr != nil {
		if pkgerrors.As(txErr) != nil {
			return nil, txErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "record refund")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithTransactionID(ctx, original.ID.String()), map[string]any{
			"refund_id": refund.ID.String(),
			"amount":    refund.AmountCents,
		})
		s.logg.Info(logCtx, "payment refunded")
	}
	return s.refundResult(ctx, original.ID, refund.ID)
}

// OpenRefund creates a pending refund for a provider to settle. Amount may be
// partial but never exceeds the original.
func (s *service) OpenRefund(ctx context.Context, input OpenRefundInput) (*models.Transaction, error) {
	original, err := s.refundable(ctx, input.OriginalID, input.Actor)
	if err != nil {
		return nil, err
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if input.AmountCents > original.AmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds original payment").
			WithDetails(map[string]any{"amount": input.AmountCents, "original_amount": original.AmountCents})
	}

	refund := newRefund(original, input.AmountCents, strings.TrimSpace(input.Reason), input.Actor)
	if input.PaymentReference != "" {
		ref := input.PaymentReference
		refund.PaymentReference = &ref
	}
	err = s.insert(ctx, refund, &input.Actor, func(repo Repository) error {
		pending, err := repo.HasPendingRefund(ctx, original.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending refunds")
		}
		if pending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "a refund is already in progress")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, refund.ID)
}

func (s *service) refundable(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	original, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == enums.RoleFarmer && actor.IsOptional(original.FarmerID)) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the farmer or an admin can refund")
	}
	if original.Type != enums.TransactionTypePayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only payments can be refunded")
	}
	if original.Status != enums.TransactionStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed payments can be refunded").
			WithDetails(map[string]any{"status": original.Status})
	}
	return original, nil
}

func (s *service) refundResult(ctx context.Context, originalID, refundID uuid.UUID) (*RefundResult, error) {
	original, err := s.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}
	refund, err := s.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}
	return &RefundResult{Original: original, Refund: refund}, nil
}

func newRefund(original *models.Transaction, amount int64, reason string, actor auth.Actor) *models.Transaction {
	refundedBy := actor.UserID
	refund := &models.Transaction{
		OrderID:              original.OrderID,
		OrderNumber:          original.OrderNumber,
		BuyerID:              original.BuyerID,
		FarmerID:             original.FarmerID,
		Type:                 enums.TransactionTypeRefund,
		AmountCents:          amount,
		Currency:             original.Currency,
		Status:               enums.TransactionStatusPending,
		PaymentMethod:        original.PaymentMethod,
		Provider:             original.Provider,
		RelatedTransactionID: &original.ID,
		RefundedBy:           &refundedBy,
	}
	if reason != "" {
		refund.RefundReason = &reason
	}
	return refund
}
