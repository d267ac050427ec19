package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	values  map[string]any
	ttls    map[string]time.Duration
	deleted []string
	err     error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{values: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (s *recordingStore) Get(_ context.Context, key string) (string, error) {
	v, _ := s.values[key].(string)
	return v, nil
}

func (s *recordingStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	s.ttls[key] = ttl
	return true, nil
}

func (s *recordingStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.values, k)
		s.deleted = append(s.deleted, k)
	}
	return nil
}

func (s *recordingStore) IdempotencyKey(scope, id string) string {
	return "fc:idempotency:" + scope + ":" + id
}

func TestClaimThenDuplicate(t *testing.T) {
	store := newRecordingStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	manager.now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	eventID := uuid.New()
	key := "fc:idempotency:evt:processed:analytics-worker:" + eventID.String()

	seen, err := manager.CheckAndMarkProcessed(ctx, "analytics-worker", eventID)
	require.NoError(t, err)
	require.False(t, seen)
	require.Equal(t, "2026-10-15T09:00:00Z", store.values[key])
	require.Equal(t, 24*time.Hour, store.ttls[key])

	seen, err = manager.CheckAndMarkProcessed(ctx, "analytics-worker", eventID)
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = manager.CheckAndMarkProcessed(ctx, "another-consumer", eventID)
	require.NoError(t, err)
	require.False(t, seen, "claims are scoped per consumer")
}

func TestDeleteReleasesClaim(t *testing.T) {
	store := newRecordingStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = manager.CheckAndMarkKey(ctx, "phonepe-callback", "abc123")
	require.NoError(t, err)
	require.NoError(t, manager.DeleteKey(ctx, "phonepe-callback", "abc123"))
	require.Equal(t, []string{"fc:idempotency:evt:processed:phonepe-callback:abc123"}, store.deleted)

	seen, err := manager.CheckAndMarkKey(ctx, "phonepe-callback", "abc123")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestStoreErrorPropagates(t *testing.T) {
	store := newRecordingStore()
	store.err = errors.New("boom")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.CheckAndMarkProcessed(context.Background(), "analytics-worker", uuid.New())
	require.EqualError(t, err, "boom")
}

func TestRejectsMissingIdentifiers(t *testing.T) {
	manager, err := NewManager(newRecordingStore(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = manager.CheckAndMarkProcessed(ctx, "analytics-worker", uuid.Nil)
	require.ErrorIs(t, err, ErrIDRequired)
	_, err = manager.CheckAndMarkKey(ctx, "", "x")
	require.ErrorIs(t, err, ErrConsumerRequired)
	require.ErrorIs(t, manager.Delete(ctx, "analytics-worker", uuid.Nil), ErrIDRequired)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	require.Error(t, err)
	_, err = NewManager(newRecordingStore(), -time.Second)
	require.Error(t, err)
}
