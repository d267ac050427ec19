package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

// Client holds the analytics dataset and the payment events table.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	table   string
	logg    *logger.Logger
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// NewClient dials BigQuery, checks the dataset exists and creates the
// payment events table when it is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	table := strings.TrimSpace(cfg.PaymentEventsTable)
	if table == "" {
		return nil, errTableNameRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	c := &Client{
		client:  bqClient,
		dataset: bqClient.Dataset(datasetID),
		table:   table,
		logg:    logg,
	}
	if err := c.ensureTable(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": datasetID,
			"table":   table,
		}), "bigquery client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// PaymentEventsSchema is the column layout of the payment events table.
func PaymentEventsSchema() bigquery.Schema {
	required := func(name string, typ bigquery.FieldType) *bigquery.FieldSchema {
		return &bigquery.FieldSchema{Name: name, Type: typ, Required: true}
	}
	nullable := func(name string, typ bigquery.FieldType) *bigquery.FieldSchema {
		return &bigquery.FieldSchema{Name: name, Type: typ}
	}
	return bigquery.Schema{
		required("event_id", bigquery.StringFieldType),
		required("event_type", bigquery.StringFieldType),
		required("occurred_at", bigquery.TimestampFieldType),
		required("transaction_id", bigquery.StringFieldType),
		required("txn_number", bigquery.StringFieldType),
		nullable("order_id", bigquery.StringFieldType),
		required("buyer_id", bigquery.StringFieldType),
		nullable("farmer_id", bigquery.StringFieldType),
		required("type", bigquery.StringFieldType),
		required("status", bigquery.StringFieldType),
		required("provider", bigquery.StringFieldType),
		nullable("payment_method", bigquery.StringFieldType),
		required("amount_cents", bigquery.IntegerFieldType),
		required("currency", bigquery.StringFieldType),
		nullable("payment_reference", bigquery.StringFieldType),
		nullable("source", bigquery.StringFieldType),
		nullable("reason", bigquery.StringFieldType),
		nullable("actor_id", bigquery.StringFieldType),
		nullable("payload", bigquery.JSONFieldType),
		required("ingested_at", bigquery.TimestampFieldType),
	}
}

func (c *Client) ensureTable(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	table := c.dataset.Table(c.table)
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("checking table %q: %w", c.table, err)
	}
	err = table.Create(ctx, &bigquery.TableMetadata{
		Schema:           PaymentEventsSchema(),
		TimePartitioning: &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: "occurred_at"},
		Clustering:       &bigquery.Clustering{Fields: []string{"provider", "event_type"}},
	})
	if err != nil && !isConflict(err) {
		return fmt.Errorf("creating table %q: %w", c.table, err)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "table", c.table), "created payment events table")
	}
	return nil
}

// Ping verifies the dataset and table are accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()
	if _, err := c.dataset.Table(c.table).Metadata(ctx); err != nil {
		return fmt.Errorf("checking table %q: %w", c.table, err)
	}
	return nil
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// carry their own insert IDs.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	if strings.TrimSpace(table) == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(strings.TrimSpace(table)).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	return apiCode(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return apiCode(err) == http.StatusConflict
}

func apiCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code
	}
	return 0
}
