// Package idempotency guards consumers against redelivered messages. A
// delivery is claimed with a single SETNX; the first claimant processes it
// and later claimants see it as a duplicate until the TTL lapses.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/redis"
)

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrIDRequired       = errors.New("event id is required")
)

type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager keeps claims for ttl. A zero ttl keeps them until deleted.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It reports true when an
// earlier delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, ErrIDRequired
	}
	return m.CheckAndMarkKey(ctx, consumer, eventID.String())
}

// CheckAndMarkKey claims an arbitrary delivery key, such as the digest of a
// provider callback body.
func (m *Manager) CheckAndMarkKey(ctx context.Context, consumer, id string) (bool, error) {
	key, err := m.key(consumer, id)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Delete releases the claim so a failed delivery can be retried.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	return m.DeleteKey(ctx, consumer, eventID.String())
}

func (m *Manager) DeleteKey(ctx context.Context, consumer, id string) error {
	key, err := m.key(consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// key yields fc:idempotency:evt:processed:<consumer>:<id>.
func (m *Manager) key(consumer, id string) (string, error) {
	if consumer == "" {
		return "", ErrConsumerRequired
	}
	if id == "" || id == uuid.Nil.String() {
		return "", ErrIDRequired
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, id), nil
}
