package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one event type to a topic and names the payload
// schema its envelope data must decode into.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// PaymentEventTypes all carry payloads.PaymentEvent on the payments topic.
var PaymentEventTypes = []enums.OutboxEventType{
	enums.EventPaymentCompleted,
	enums.EventPaymentFailed,
	enums.EventPaymentRefunded,
	enums.EventTransactionExpired,
	enums.EventTransactionLinked,
	enums.EventTransactionInitiated,
}

// EventRegistry is the closed set of event types the publisher will forward.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.OrdersTopic == "":
		return nil, errors.New("orders topic is required")
	case cfg.PaymentsTopic == "":
		return nil, errors.New("payments topic is required")
	}

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	order := func(t enums.OutboxEventType, factory func() any) {
		reg.entries[t] = EventDescriptor{EventType: t, AggregateType: enums.AggregateOrder, Topic: cfg.OrdersTopic, PayloadFactory: factory}
	}
	order(enums.EventOrderCreated, func() any { return &payloads.OrderCreatedEvent{} })
	order(enums.EventOrderStatusChanged, func() any { return &payloads.OrderStatusChangedEvent{} })
	order(enums.EventOrderCancelled, func() any { return &payloads.OrderCancelledEvent{} })

	for _, t := range PaymentEventTypes {
		reg.entries[t] = EventDescriptor{
			EventType:      t,
			AggregateType:  enums.AggregateTransaction,
			Topic:          cfg.PaymentsTopic,
			PayloadFactory: func() any { return &payloads.PaymentEvent{} },
		}
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable since the stored row will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	reject := func(format string, args ...any) (*ResolvedEvent, error) {
		return nil, NewNonRetryableError(fmt.Errorf(format, args...))
	}

	desc, ok := r.entries[event.EventType]
	if !ok {
		return reject("unsupported event type %s", event.EventType)
	}
	if event.AggregateType != desc.AggregateType {
		return reject("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return reject("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return reject("%s: %w", event.EventType, err)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return reject("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
