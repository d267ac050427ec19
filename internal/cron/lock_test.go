package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryLockStore) LockKey(name string) string { return "fc:lock:" + name }

func TestRedisLockIsExclusive(t *testing.T) {
	store := newMemoryLockStore()
	first, err := NewRedisLock(store, "cron-worker:test", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "cron-worker:test", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, second.Release(context.Background()))
	require.Contains(t, store.values, "fc:lock:cron-worker:test")

	require.NoError(t, first.Release(context.Background()))
	require.NotContains(t, store.values, "fc:lock:cron-worker:test")

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockDoesNotDropForeignOwner(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, "sweep", time.Minute)
	require.NoError(t, err)
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	store.values["fc:lock:sweep"] = "someone-else"
	require.NoError(t, lock.Release(context.Background()))
	require.Equal(t, "someone-else", store.values["fc:lock:sweep"])
}
