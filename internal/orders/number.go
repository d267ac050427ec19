package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

const (
	dayLayout        = "060102"
	sequenceTTL      = 48 * time.Hour
	maxNumberRetries = 3
)

type counterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

// RedisSequence increments fc:counter:orders:<YYMMDD>.
type RedisSequence struct {
	store counterStore
}

func NewRedisSequence(store counterStore) *RedisSequence {
	return &RedisSequence{store: store}
}

func (s *RedisSequence) Next(ctx context.Context, day string, _ time.Time) (int64, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("redis sequence not configured")
	}
	return s.store.IncrWithTTL(ctx, s.store.CounterKey("orders:"+day), sequenceTTL)
}

// CountSequence derives the next value from the orders already numbered
// today. Concurrent callers can collide; the unique index catches that.
type CountSequence struct {
	repo   Repository
	prefix string
}

func NewCountSequence(repo Repository, prefix string) *CountSequence {
	return &CountSequence{repo: repo, prefix: prefix}
}

func (s *CountSequence) Next(ctx context.Context, day string, _ time.Time) (int64, error) {
	count, err := s.repo.CountByNumberPrefix(ctx, s.prefix+day)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// NumberGenerator formats <prefix><YYMMDD><4-digit seq>.
type NumberGenerator struct {
	prefix   string
	primary  SequenceSource
	fallback SequenceSource
	logg     *logger.Logger
}

func NewNumberGenerator(prefix string, primary, fallback SequenceSource, logg *logger.Logger) (*NumberGenerator, error) {
	if prefix == "" {
		return nil, fmt.Errorf("order number prefix required")
	}
	if primary == nil && fallback == nil {
		return nil, fmt.Errorf("at least one sequence source required")
	}
	return &NumberGenerator{prefix: prefix, primary: primary, fallback: fallback, logg: logg}, nil
}

// Next returns a candidate number. attempt is the zero-based retry count
// after a unique violation; the counting fallback skips ahead by it.
func (g *NumberGenerator) Next(ctx context.Context, at time.Time, attempt int) (string, error) {
	day := at.UTC().Format(dayLayout)
	seq, err := g.sequence(ctx, day, at, attempt)
	if err != nil {
		return "", err
	}
	return FormatOrderNumber(g.prefix, at, seq), nil
}

func (g *NumberGenerator) sequence(ctx context.Context, day string, at time.Time, attempt int) (int64, error) {
	if g.primary != nil {
		seq, err := g.primary.Next(ctx, day, at)
		if err == nil {
			return seq, nil
		}
		if g.fallback == nil {
			return 0, err
		}
		if g.logg != nil {
			g.logg.Warn(g.logg.WithField(ctx, "day", day), "order sequence unavailable, counting orders instead")
		}
	}
	seq, err := g.fallback.Next(ctx, day, at)
	if err != nil {
		return 0, err
	}
	return seq + int64(attempt), nil
}

// FormatOrderNumber renders an order number for the given day and sequence.
func FormatOrderNumber(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s%s%04d", prefix, at.UTC().Format(dayLayout), seq)
}
