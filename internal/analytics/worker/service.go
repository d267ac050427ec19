package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/internal/analytics"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/registry"
)

const consumerName = "payment-analytics"

// Sink persists analytics rows.
type Sink interface {
	Write(ctx context.Context, row *analytics.PaymentEventRow) error
	Flush(ctx context.Context) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Service copies payment events from Pub/Sub into the analytics sink. An
// event is marked processed before the write and unmarked if the write
// fails, so redeliveries are retried but duplicates are skipped.
type Service struct {
	subscription receiver
	sink         Sink
	manager      idempotencyChecker
	logg         *logger.Logger
	now          func() time.Time
	payments     map[enums.OutboxEventType]struct{}

	mu sync.Mutex
}

func NewService(subscription receiver, sink Sink, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if sink == nil {
		return nil, errors.New("analytics sink is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	payments := make(map[enums.OutboxEventType]struct{}, len(registry.PaymentEventTypes))
	for _, t := range registry.PaymentEventTypes {
		payments[t] = struct{}{}
	}
	return &Service{
		subscription: subscription,
		sink:         sink,
		manager:      manager,
		logg:         logg,
		now:          time.Now,
		payments:     payments,
	}, nil
}

// Run blocks receiving messages until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process reports whether the message should be redelivered.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	eventType, envelope, err := decode(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping malformed analytics message")
		return false
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})
	if _, ok := s.payments[eventType]; !ok {
		s.logg.Debug(logCtx, "ignoring non-payment event")
		return false
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "dropping event with invalid id")
		return false
	}
	row, err := analytics.NewPaymentEventRow(eventType, envelope, s.now())
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping undecodable payment event")
		return false
	}

	already, err := s.manager.CheckAndMarkProcessed(logCtx, consumerName, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return true
	}
	if already {
		s.logg.Info(logCtx, "payment event already recorded")
		return false
	}

	if err := s.write(logCtx, row); err != nil {
		s.logg.Error(logCtx, "analytics write failed", err)
		if delErr := s.manager.Delete(logCtx, consumerName, eventID); delErr != nil {
			s.logg.Error(logCtx, "failed to clear idempotency mark", delErr)
		}
		return true
	}
	s.logg.Info(logCtx, "payment event recorded")
	return false
}

func (s *Service) write(ctx context.Context, row *analytics.PaymentEventRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sink.Write(ctx, row); err != nil {
		return err
	}
	return s.sink.Flush(ctx)
}

func decode(msg *gcppubsub.Message) (enums.OutboxEventType, outbox.PayloadEnvelope, error) {
	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return "", envelope, err
	}
	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return "", envelope, fmt.Errorf("event_type: %w", err)
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		envelope.EventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if envelope.EventID == "" {
		return "", envelope, errors.New("event_id missing")
	}
	if envelope.OccurredAt.IsZero() {
		if created, err := time.Parse(time.RFC3339Nano, msg.Attributes["created_at"]); err == nil {
			envelope.OccurredAt = created
		}
	}
	return eventType, envelope, nil
}
