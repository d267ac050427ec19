package writer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/farmcart-backend/internal/analytics"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls where payment rows land and how inserts are retried.
type Config struct {
	Table       string
	BatchSize   int
	RetryPolicy RetryPolicy
}

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams payment rows into one table, buffering up to
// BatchSize rows per insert. It is not safe for concurrent use.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	batchSize int
	retry     RetryPolicy
	buffer    []*analytics.PaymentEventRow
	sleep     func(context.Context, time.Duration) error
}

func New(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("payment events table is required")
	}
	retry := cfg.RetryPolicy
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = max(defaultMaximumBackoff, retry.InitialBackoff)
	}
	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: max(cfg.BatchSize, defaultBatchSize),
		retry:     retry,
		sleep:     sleepCtx,
	}, nil
}

// Write buffers row and flushes once the batch is full.
func (w *BigQueryWriter) Write(ctx context.Context, row *analytics.PaymentEventRow) error {
	if row == nil {
		return nil
	}
	w.buffer = append(w.buffer, row)
	if len(w.buffer) < w.batchSize {
		return nil
	}
	return w.Flush(ctx)
}

// Flush inserts the buffer. After a partial failure only the rejected rows
// stay buffered, so accepted rows are not streamed twice.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	backoff := w.retry.InitialBackoff
	for attempt := 1; len(w.buffer) > 0; attempt++ {
		err := w.insert(ctx)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !retryable(err) {
			return fmt.Errorf("insert into %s failed after %d attempts: %w", w.table, attempt, err)
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
	return nil
}

func (w *BigQueryWriter) insert(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]any, len(w.buffer))
	for i, row := range w.buffer {
		rows[i] = row
	}
	err := w.client.InsertRows(ctx, w.table, rows)
	if err == nil {
		w.buffer = w.buffer[:0]
		return nil
	}

	var rowErrs cbigquery.PutMultiError
	if errors.As(err, &rowErrs) && len(rowErrs) > 0 {
		failed := make([]int, 0, len(rowErrs))
		for _, re := range rowErrs {
			failed = append(failed, re.RowIndex)
		}
		kept := w.buffer[:0]
		for i, row := range w.buffer {
			if slices.Contains(failed, i) {
				kept = append(kept, row)
			}
		}
		w.buffer = kept
	}
	return err
}

// retryable is true only when every error inside err is transient.
func retryable(err error) bool {
	var rowErrs cbigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		return len(rowErrs) > 0 && all(rowErrs, func(re cbigquery.RowInsertionError) bool {
			return len(re.Errors) > 0 && all(re.Errors, retryable)
		})
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return len(multi) > 0 && all(multi, retryable)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func all[T any](items []T, pred func(T) bool) bool {
	for _, item := range items {
		if !pred(item) {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
