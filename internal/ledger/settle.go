package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/payloads"
)

// Settle moves a pending transaction to completed, failed, or expired. Only
// the caller whose guarded update wins applies order side effects and emits
// events; everyone else gets the current row with Applied=false.
func (s *service) Settle(ctx context.Context, input SettleInput) (*SettleResult, error) {
	switch input.To {
	case enums.TransactionStatusCompleted, enums.TransactionStatusFailed, enums.TransactionStatusExpired:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported settlement status").
			WithDetails(map[string]any{"status": input.To})
	}

	txn, err := s.Get(ctx, input.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != enums.TransactionStatusPending {
		return &SettleResult{Transaction: txn}, nil
	}

	now := s.now().UTC()
	updates := map[string]any{}
	switch input.To {
	case enums.TransactionStatusCompleted:
		updates["processed_at"] = now
		if input.CaptureID != nil {
			updates["capture_id"] = *input.CaptureID
		}
		if input.PayerID != nil {
			updates["payer_id"] = *input.PayerID
		}
	case enums.TransactionStatusFailed:
		updates["failed_at"] = now
		if input.Reason != "" {
			updates["failure_reason"] = input.Reason
		}
	case enums.TransactionStatusExpired:
		updates["expired_at"] = now
		if input.Reason != "" {
			updates["failure_reason"] = input.Reason
		}
	}
	if len(input.Details) > 0 {
		updates["details"] = []byte(input.Details)
	}

	applied := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.Transition(ctx, txn.ID, enums.TransactionStatusPending, input.To, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
		}
		if !moved {
			return nil
		}
		applied = true
		current, err := repo.FindByID(ctx, txn.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload transaction")
		}
		return s.afterSettle(ctx, tx, current, input, now)
	})
	if err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if applied && s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithTransactionID(ctx, current.ID.String()), map[string]any{
			"status":   current.Status,
			"source":   input.Source,
			"provider": current.Provider,
		})
		s.logg.Info(logCtx, "transaction settled")
	}
	return &SettleResult{Transaction: current, Applied: applied}, nil
}

func (s *service) afterSettle(ctx context.Context, tx *gorm.DB, txn *models.Transaction, input SettleInput, now time.Time) error {
	if txn.Type == enums.TransactionTypeRefund {
		if txn.Status == enums.TransactionStatusCompleted {
			return s.completeRefundTx(ctx, tx, txn, now, input.Source)
		}
		return s.emitPayment(ctx, tx, enums.EventPaymentFailed, txn, input.Source, input.Reason, input.Actor)
	}

	orderRepo := s.orders.WithTx(tx)
	switch txn.Status {
	case enums.TransactionStatusCompleted:
		if txn.IsLinked() {
			if _, err := orderRepo.MarkPaid(ctx, *txn.OrderID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
			}
		}
		return s.emitPayment(ctx, tx, enums.EventPaymentCompleted, txn, input.Source, "", input.Actor)
	case enums.TransactionStatusFailed:
		if txn.IsLinked() {
			if _, err := orderRepo.MarkPaymentFailed(ctx, *txn.OrderID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order payment failed")
			}
		}
		return s.emitPayment(ctx, tx, enums.EventPaymentFailed, txn, input.Source, input.Reason, input.Actor)
	case enums.TransactionStatusExpired:
		if txn.IsLinked() {
			if _, err := orderRepo.MarkPaymentFailed(ctx, *txn.OrderID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order payment failed")
			}
		}
		return s.emitPayment(ctx, tx, enums.EventTransactionExpired, txn, input.Source, input.Reason, input.Actor)
	}
	return nil
}

// completeRefundTx closes out the original payment once its refund has
// completed. The original must still be completed; otherwise the whole
// transaction rolls back.
func (s *service) completeRefundTx(ctx context.Context, tx *gorm.DB, refund *models.Transaction, now time.Time, source string) error {
	if refund.RelatedTransactionID == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "refund has no original transaction")
	}
	updates := map[string]any{"refunded_at": now}
	if refund.RefundReason != nil {
		updates["refund_reason"] = *refund.RefundReason
	}
	if refund.RefundedBy != nil {
		updates["refunded_by"] = *refund.RefundedBy
	}
	repo := s.repo.WithTx(tx)
	moved, err := repo.Transition(ctx, *refund.RelatedTransactionID, enums.TransactionStatusCompleted, enums.TransactionStatusCancelled, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark original refunded")
	}
	if !moved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "original payment is no longer refundable").
			WithDetails(map[string]any{"transaction_id": *refund.RelatedTransactionID})
	}
	if refund.IsLinked() {
		if _, err := s.orders.WithTx(tx).MarkRefunded(ctx, *refund.OrderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
		}
	}
	reason := ""
	if refund.RefundReason != nil {
		reason = *refund.RefundReason
	}
	var actor *auth.Actor
	if refund.RefundedBy != nil {
		actor = &auth.Actor{UserID: *refund.RefundedBy}
	}
	return s.emitPayment(ctx, tx, enums.EventPaymentRefunded, refund, source, reason, actor)
}

func (s *service) Process(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Transaction, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	txn, err := s.View(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if txn.Provider.IsAsync() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction settles through its provider").
			WithDetails(map[string]any{"provider": txn.Provider})
	}
	if txn.Type != enums.TransactionTypePayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only payments can be processed")
	}
	res, err := s.Settle(ctx, SettleInput{
		TransactionID: id,
		To:            enums.TransactionStatusCompleted,
		Source:        SourceLocal,
		Actor:         &actor,
	})
	if err != nil {
		return nil, err
	}
	return res.Transaction, nil
}

func (s *service) Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	res, err := s.Settle(ctx, SettleInput{
		TransactionID: id,
		To:            enums.TransactionStatusFailed,
		Source:        SourceLocal,
		Reason:        reason,
	})
	if err != nil {
		return nil, err
	}
	return res.Transaction, nil
}

func (s *service) Expire(ctx context.Context, id uuid.UUID, reason string) (*SettleResult, error) {
	return s.Settle(ctx, SettleInput{
		TransactionID: id,
		To:            enums.TransactionStatusExpired,
		Source:        SourceExpiry,
		Reason:        reason,
	})
}

func (s *service) emitPayment(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, txn *models.Transaction, source, reason string, actor *auth.Actor) error {
	var ref *outbox.ActorRef
	if actor != nil && actor.UserID != uuid.Nil {
		ref = &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
	}
	now := s.now().UTC()
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Actor:         ref,
		OccurredAt:    now,
		Data: payloads.PaymentEvent{
			TransactionID:    txn.ID,
			TxnNumber:        txn.TxnNumber,
			OrderID:          txn.OrderID,
			BuyerID:          txn.BuyerID,
			FarmerID:         txn.FarmerID,
			Type:             txn.Type,
			Status:           txn.Status,
			Provider:         txn.Provider,
			PaymentMethod:    txn.PaymentMethod,
			AmountCents:      txn.AmountCents,
			Currency:         txn.Currency,
			PaymentReference: txn.PaymentReference,
			Source:           source,
			Reason:           reason,
			OccurredAt:       now,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
}
