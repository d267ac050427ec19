package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/metrics"
)

// Outcomes recorded on the reconciliation counter.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
)

// Notification is a provider's view of a transaction, from a webhook, a
// status poll, or a synchronous capture response.
type Notification struct {
	Provider      enums.PaymentProvider
	TransactionID uuid.UUID
	Reference     string
	Code          string
	Source        string
	Reason        string
	CaptureID     *string
	PayerID       *string
	Details       json.RawMessage
	Actor         *auth.Actor
}

// Result is the transaction after reconciliation.
type Result struct {
	Transaction *models.Transaction
	Applied     bool
	Outcome     string
}

type settler interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByPaymentReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Transaction, error)
	Settle(ctx context.Context, input ledger.SettleInput) (*ledger.SettleResult, error)
}

// Engine applies provider notifications to the ledger.
type Engine struct {
	ledger  settler
	metrics *metrics.PaymentMetrics
	logg    *logger.Logger
}

func NewEngine(ledgerSvc settler, paymentMetrics *metrics.PaymentMetrics, logg *logger.Logger) (*Engine, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &Engine{ledger: ledgerSvc, metrics: paymentMetrics, logg: logg}, nil
}

// Apply settles the referenced transaction when the provider reports a
// terminal status. Transactions that already left pending are never touched.
func (e *Engine) Apply(ctx context.Context, n Notification) (*Result, error) {
	txn, err := e.resolve(ctx, n)
	if err != nil {
		return nil, err
	}

	target := MapProviderStatus(n.Code, txn.Status)
	if txn.Status != enums.TransactionStatusPending || target == enums.TransactionStatusPending {
		e.record(ctx, n, txn, OutcomeNoop)
		return &Result{Transaction: txn, Outcome: OutcomeNoop}, nil
	}

	reason := strings.TrimSpace(n.Reason)
	if target == enums.TransactionStatusFailed && reason == "" {
		reason = n.Code
	}
	res, err := e.ledger.Settle(ctx, ledger.SettleInput{
		TransactionID: txn.ID,
		To:            target,
		Source:        n.Source,
		Reason:        reason,
		CaptureID:     n.CaptureID,
		PayerID:       n.PayerID,
		Details:       n.Details,
		Actor:         n.Actor,
	})
	if err != nil {
		return nil, err
	}

	outcome := OutcomeNoop
	if res.Applied {
		outcome = OutcomeApplied
	}
	e.record(ctx, n, res.Transaction, outcome)
	return &Result{Transaction: res.Transaction, Applied: res.Applied, Outcome: outcome}, nil
}

// RejectChecksum records a payload whose signature did not verify and
// returns the error to surface to the caller.
func (e *Engine) RejectChecksum(ctx context.Context, provider enums.PaymentProvider, source string) error {
	e.metrics.IncChecksumFailure(string(provider))
	e.metrics.IncReconciliation(string(provider), source, OutcomeRejected)
	if e.logg != nil {
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
			"provider": provider,
			"source":   source,
		}), "provider checksum mismatch")
	}
	return pkgerrors.New(pkgerrors.CodeChecksum, "checksum verification failed")
}

func (e *Engine) resolve(ctx context.Context, n Notification) (*models.Transaction, error) {
	if n.TransactionID != uuid.Nil {
		return e.ledger.Get(ctx, n.TransactionID)
	}
	if strings.TrimSpace(n.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification has no transaction reference")
	}
	return e.ledger.FindByPaymentReference(ctx, n.Provider, n.Reference)
}

func (e *Engine) record(ctx context.Context, n Notification, txn *models.Transaction, outcome string) {
	e.metrics.IncReconciliation(string(n.Provider), n.Source, outcome)
	if e.logg == nil {
		return
	}
	logCtx := e.logg.WithFields(e.logg.WithTransactionID(ctx, txn.ID.String()), map[string]any{
		"provider": n.Provider,
		"source":   n.Source,
		"code":     n.Code,
		"status":   txn.Status,
		"outcome":  outcome,
	})
	e.logg.Info(logCtx, "provider notification reconciled")
}
