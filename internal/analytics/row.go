package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/payloads"
)

// PaymentEventRow is one row of the payment_events table.
type PaymentEventRow struct {
	EventID          string
	EventType        enums.OutboxEventType
	OccurredAt       time.Time
	TransactionID    string
	TxnNumber        string
	OrderID          bigquery.NullString
	BuyerID          string
	FarmerID         bigquery.NullString
	Type             string
	Status           string
	Provider         string
	PaymentMethod    string
	AmountCents      int64
	Currency         string
	PaymentReference bigquery.NullString
	Source           bigquery.NullString
	Reason           bigquery.NullString
	ActorID          bigquery.NullString
	Payload          bigquery.NullJSON
	IngestedAt       time.Time
}

// Save implements bigquery.ValueSaver. The event id doubles as the insert
// id so streaming retries are deduplicated.
func (r *PaymentEventRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"event_id":          r.EventID,
		"event_type":        string(r.EventType),
		"occurred_at":       r.OccurredAt,
		"transaction_id":    r.TransactionID,
		"txn_number":        r.TxnNumber,
		"order_id":          r.OrderID,
		"buyer_id":          r.BuyerID,
		"farmer_id":         r.FarmerID,
		"type":              r.Type,
		"status":            r.Status,
		"provider":          r.Provider,
		"payment_method":    r.PaymentMethod,
		"amount_cents":      r.AmountCents,
		"currency":          r.Currency,
		"payment_reference": r.PaymentReference,
		"source":            r.Source,
		"reason":            r.Reason,
		"actor_id":          r.ActorID,
		"payload":           r.Payload,
		"ingested_at":       r.IngestedAt,
	}, r.EventID, nil
}

// NewPaymentEventRow flattens a published payment envelope.
func NewPaymentEventRow(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope, ingestedAt time.Time) (*PaymentEventRow, error) {
	var event payloads.PaymentEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		return nil, fmt.Errorf("decode payment event: %w", err)
	}
	occurredAt := envelope.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = event.OccurredAt
	}
	row := &PaymentEventRow{
		EventID:       envelope.EventID,
		EventType:     eventType,
		OccurredAt:    occurredAt.UTC(),
		TransactionID: event.TransactionID.String(),
		TxnNumber:     event.TxnNumber,
		BuyerID:       event.BuyerID.String(),
		Type:          string(event.Type),
		Status:        string(event.Status),
		Provider:      string(event.Provider),
		PaymentMethod: string(event.PaymentMethod),
		AmountCents:   event.AmountCents,
		Currency:      event.Currency,
		Source:        nullString(event.Source),
		Reason:        nullString(event.Reason),
		Payload:       bigquery.NullJSON{JSONVal: string(envelope.Data), Valid: len(envelope.Data) > 0},
		IngestedAt:    ingestedAt.UTC(),
	}
	if event.OrderID != nil {
		row.OrderID = nullString(event.OrderID.String())
	}
	if event.FarmerID != nil {
		row.FarmerID = nullString(event.FarmerID.String())
	}
	if event.PaymentReference != nil {
		row.PaymentReference = nullString(*event.PaymentReference)
	}
	if envelope.Actor != nil {
		row.ActorID = nullString(envelope.Actor.UserID.String())
	}
	return row, nil
}

func nullString(v string) bigquery.NullString {
	return bigquery.NullString{StringVal: v, Valid: v != ""}
}
