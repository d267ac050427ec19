package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/internal/analytics"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/payloads"
)

type stubReceiver struct{}

func (stubReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

type stubSink struct {
	rows    []*analytics.PaymentEventRow
	err     error
	flushes int
}

func (s *stubSink) Write(_ context.Context, row *analytics.PaymentEventRow) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *stubSink) Flush(context.Context) error {
	s.flushes++
	return nil
}

type stubManager struct {
	seen    map[uuid.UUID]bool
	err     error
	deleted []uuid.UUID
}

func (m *stubManager) CheckAndMarkProcessed(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = map[uuid.UUID]bool{}
	}
	already := m.seen[id]
	m.seen[id] = true
	return already, nil
}

func (m *stubManager) Delete(_ context.Context, _ string, id uuid.UUID) error {
	m.deleted = append(m.deleted, id)
	delete(m.seen, id)
	return nil
}

func newTestService(t *testing.T, sink Sink, manager idempotencyChecker) *Service {
	t.Helper()
	svc, err := NewService(stubReceiver{}, sink, manager, logger.New(logger.Options{ServiceName: "analytics-test"}))
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }
	return svc
}

func paymentMessage(t *testing.T, eventType enums.OutboxEventType, eventID string) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(payloads.PaymentEvent{
		TransactionID: uuid.New(),
		TxnNumber:     "TXN1760000000000001",
		BuyerID:       uuid.New(),
		Status:        enums.TransactionStatusCompleted,
		AmountCents:   2500,
		Currency:      "INR",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       body,
		Attributes: map[string]string{"event_type": string(eventType), "event_id": eventID},
	}
}

func TestProcessWritesPaymentEvent(t *testing.T) {
	sink := &stubSink{}
	svc := newTestService(t, sink, &stubManager{})

	if nack := svc.process(context.Background(), paymentMessage(t, enums.EventPaymentCompleted, uuid.NewString())); nack {
		t.Fatal("expected ack")
	}
	if len(sink.rows) != 1 || sink.flushes != 1 {
		t.Fatalf("expected one row flushed, got rows=%d flushes=%d", len(sink.rows), sink.flushes)
	}
	if sink.rows[0].AmountCents != 2500 {
		t.Fatalf("unexpected amount %d", sink.rows[0].AmountCents)
	}
}

func TestProcessSkipsDuplicates(t *testing.T) {
	sink := &stubSink{}
	svc := newTestService(t, sink, &stubManager{})
	id := uuid.NewString()

	svc.process(context.Background(), paymentMessage(t, enums.EventPaymentCompleted, id))
	if nack := svc.process(context.Background(), paymentMessage(t, enums.EventPaymentCompleted, id)); nack {
		t.Fatal("expected duplicate to be acked")
	}
	if len(sink.rows) != 1 {
		t.Fatalf("expected duplicate skipped, got %d rows", len(sink.rows))
	}
}

func TestProcessIgnoresOrderEvents(t *testing.T) {
	sink := &stubSink{}
	svc := newTestService(t, sink, &stubManager{})
	if nack := svc.process(context.Background(), paymentMessage(t, enums.EventOrderCreated, uuid.NewString())); nack {
		t.Fatal("expected ack")
	}
	if len(sink.rows) != 0 {
		t.Fatal("order events must not reach the payment sink")
	}
}

func TestProcessSinkFailureNacksAndUnmarks(t *testing.T) {
	sink := &stubSink{err: errors.New("bigquery unavailable")}
	manager := &stubManager{}
	svc := newTestService(t, sink, manager)
	id := uuid.New()

	if nack := svc.process(context.Background(), paymentMessage(t, enums.EventPaymentFailed, id.String())); !nack {
		t.Fatal("expected nack on sink failure")
	}
	if len(manager.deleted) != 1 || manager.deleted[0] != id {
		t.Fatalf("expected idempotency mark cleared, got %v", manager.deleted)
	}
}

func TestProcessIdempotencyErrorNacks(t *testing.T) {
	svc := newTestService(t, &stubSink{}, &stubManager{err: errors.New("redis down")})
	if nack := svc.process(context.Background(), paymentMessage(t, enums.EventPaymentRefunded, uuid.NewString())); !nack {
		t.Fatal("expected nack when idempotency store fails")
	}
}

func TestProcessDropsMalformed(t *testing.T) {
	sink := &stubSink{}
	svc := newTestService(t, sink, &stubManager{})
	msg := &gcppubsub.Message{ID: "bad", Data: []byte("not-json")}
	if nack := svc.process(context.Background(), msg); nack {
		t.Fatal("malformed messages are acked and dropped")
	}
}
