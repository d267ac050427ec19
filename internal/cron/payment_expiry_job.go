package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/internal/reconciliation"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

const (
	defaultPendingTTL      = 30 * time.Minute
	defaultExpiryBatchSize = 100
	expiryReason           = "payment not confirmed before the pending window closed"
)

type pendingLedger interface {
	ListPendingBefore(ctx context.Context, providers []enums.PaymentProvider, cutoff time.Time, limit int) ([]models.Transaction, error)
	Expire(ctx context.Context, id uuid.UUID, reason string) (*ledger.SettleResult, error)
}

// StatusPoller asks the provider for a final answer before giving up.
type StatusPoller interface {
	PollStatus(ctx context.Context, txn *models.Transaction) (*reconciliation.Result, error)
}

// PaymentExpiryJobParams configure the pending-transaction sweep. Pollers
// maps a provider to the poller consulted before expiry; providers without
// one expire directly.
type PaymentExpiryJobParams struct {
	Logger     *logger.Logger
	Ledger     pendingLedger
	Pollers    map[enums.PaymentProvider]StatusPoller
	Providers  []enums.PaymentProvider
	PendingTTL time.Duration
	BatchSize  int
	Now        func() time.Time
}

func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if len(params.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &paymentExpiryJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		pollers:   params.Pollers,
		providers: params.Providers,
		ttl:       ttl,
		batch:     batch,
		now:       now,
	}, nil
}

type paymentExpiryJob struct {
	logg      *logger.Logger
	ledger    pendingLedger
	pollers   map[enums.PaymentProvider]StatusPoller
	providers []enums.PaymentProvider
	ttl       time.Duration
	batch     int
	now       func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "pending-transaction-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	rows, err := j.ledger.ListPendingBefore(ctx, j.providers, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}

	var (
		errs      error
		settled   int
		expired   int
		unchanged int
	)
	for i := range rows {
		txn := &rows[i]
		outcome, err := j.sweep(ctx, txn)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("transaction %s: %w", txn.ID, err))
			continue
		}
		switch outcome {
		case sweepSettled:
			settled++
		case sweepExpired:
			expired++
		default:
			unchanged++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"scanned":   len(rows),
		"settled":   settled,
		"expired":   expired,
		"unchanged": unchanged,
		"failures":  len(multierr.Errors(errs)),
	}), "pending transaction sweep complete")
	return errs
}

type sweepOutcome int

const (
	sweepUnchanged sweepOutcome = iota
	sweepSettled
	sweepExpired
)

func (j *paymentExpiryJob) sweep(ctx context.Context, txn *models.Transaction) (sweepOutcome, error) {
	if poller, ok := j.pollers[txn.Provider]; ok && poller != nil {
		res, err := poller.PollStatus(ctx, txn)
		if err != nil {
			// poll failures still fall through to expiry
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"transaction_id": txn.ID.String(),
				"error":          err.Error(),
			}), "status poll before expiry failed")
		} else if res != nil && res.Transaction != nil && res.Transaction.Status != enums.TransactionStatusPending {
			return sweepSettled, nil
		}
	}

	res, err := j.ledger.Expire(ctx, txn.ID, expiryReason)
	if err != nil {
		return sweepUnchanged, err
	}
	if res == nil || !res.Applied {
		return sweepUnchanged, nil
	}
	return sweepExpired, nil
}
