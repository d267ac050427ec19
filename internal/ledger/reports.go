package ledger

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/pagination"
)

// ExportHeader is the first row of every CSV export.
var ExportHeader = []string{
	"txn_number",
	"order_number",
	"type",
	"status",
	"amount",
	"currency",
	"payment_method",
	"provider",
	"payment_reference",
	"created_at",
	"processed_at",
}

func (s *service) Stats(ctx context.Context, actor auth.Actor, period enums.StatsPeriod) (*Stats, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if period == "" {
		period = enums.StatsPeriod30d
	}
	if !period.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid stats period").
			WithDetails(map[string]any{"period": period})
	}
	since := period.Since(s.now().UTC())
	rows, err := s.repo.SumByStatus(ctx, ownerScope(actor), since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate transactions")
	}
	stats := &Stats{Period: period, Since: since, ByStatus: rows}
	for _, row := range rows {
		stats.TotalCount += row.Count
		stats.TotalAmount += row.AmountCents
	}
	return stats, nil
}

func (s *service) Export(ctx context.Context, filter ExportFilter, w io.Writer) error {
	if filter.Actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return pkgerrors.New(pkgerrors.CodeValidation, "export range end precedes start")
	}
	filter.OwnerID = ownerScope(filter.Actor)
	rows, err := s.repo.ListForExport(ctx, filter)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions for export")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write export header")
	}
	for i := range rows {
		if err := cw.Write(exportRecord(&rows[i])); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write export row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flush export")
	}
	return nil
}

func (s *service) List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error) {
	if filter.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter.OwnerID = ownerScope(filter.Actor)
	rows, next, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return &ListResult{Items: rows, NextCursor: next}, nil
}

// FormatAmount renders minor units with two decimal places.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func exportRecord(txn *models.Transaction) []string {
	return []string{
		txn.TxnNumber,
		deref(txn.OrderNumber),
		string(txn.Type),
		string(txn.Status),
		FormatAmount(txn.AmountCents),
		txn.Currency,
		string(txn.PaymentMethod),
		string(txn.Provider),
		deref(txn.PaymentReference),
		txn.CreatedAt.UTC().Format(time.RFC3339),
		formatTime(txn.ProcessedAt),
	}
}

func ownerScope(actor auth.Actor) *uuid.UUID {
	if actor.IsAdmin() {
		return nil
	}
	id := actor.UserID
	return &id
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
