package orders

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

type stubSequence struct {
	next func(ctx context.Context, day string) (int64, error)
	days []string
}

func (s *stubSequence) Next(ctx context.Context, day string, _ time.Time) (int64, error) {
	s.days = append(s.days, day)
	return s.next(ctx, day)
}

type stubCounterStore struct {
	keys []string
	ttl  time.Duration
	n    int64
}

func (s *stubCounterStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.keys = append(s.keys, key)
	s.ttl = ttl
	s.n++
	return s.n, nil
}

func (s *stubCounterStore) CounterKey(name string) string {
	return "fc:counter:" + name
}

func TestFormatOrderNumber(t *testing.T) {
	at := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "ORD2601050042", FormatOrderNumber("ORD", at, 42))
	require.Equal(t, "ORD26010512345", FormatOrderNumber("ORD", at, 12345))
}

func TestRedisSequenceUsesDailyKey(t *testing.T) {
	store := &stubCounterStore{}
	gen, err := NewNumberGenerator("ORD", NewRedisSequence(store), nil, nil)
	require.NoError(t, err)

	number, err := gen.Next(context.Background(), fixedNow, 0)
	require.NoError(t, err)
	require.Equal(t, "ORD2610150001", number)
	require.Equal(t, []string{"fc:counter:orders:261015"}, store.keys)
	require.Equal(t, 48*time.Hour, store.ttl)
}

func TestNumberGeneratorFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &stubSequence{next: func(context.Context, string) (int64, error) {
		return 0, errors.New("connection refused")
	}}
	fallback := &stubSequence{next: func(context.Context, string) (int64, error) {
		return 7, nil
	}}
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	gen, err := NewNumberGenerator("ORD", primary, fallback, logg)
	require.NoError(t, err)

	number, err := gen.Next(context.Background(), fixedNow, 0)
	require.NoError(t, err)
	require.Equal(t, "ORD2610150007", number)

	number, err = gen.Next(context.Background(), fixedNow, 2)
	require.NoError(t, err)
	require.Equal(t, "ORD2610150009", number)
	require.Equal(t, []string{"261015", "261015"}, fallback.days)
}

func TestNumberGeneratorWithoutFallbackSurfacesError(t *testing.T) {
	primary := &stubSequence{next: func(context.Context, string) (int64, error) {
		return 0, errors.New("boom")
	}}
	gen, err := NewNumberGenerator("ORD", primary, nil, nil)
	require.NoError(t, err)
	_, err = gen.Next(context.Background(), fixedNow, 0)
	require.Error(t, err)

	_, err = NewNumberGenerator("", primary, nil, nil)
	require.Error(t, err)
}
