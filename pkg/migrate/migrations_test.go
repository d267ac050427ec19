package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/farmcart-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one %s migration", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Embedded()))
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	require.NoError(t, err)
	require.Len(t, embedded, len(onDisk))
}

func TestMigrationsContainExpectedStatements(t *testing.T) {
	cases := map[string][]string{
		"create_products_table": {
			"CREATE TABLE IF NOT EXISTS products",
			"DROP TABLE IF EXISTS products",
		},
		"create_inventory_items": {
			"CREATE TABLE IF NOT EXISTS inventory_items",
			"FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE",
			"CHECK (available_qty >= 0)",
			"CHECK (reserved_qty >= 0)",
		},
		"create_orders_table": {
			"CREATE TABLE IF NOT EXISTS orders",
			"CREATE UNIQUE INDEX IF NOT EXISTS orders_order_number_key",
			"CREATE TABLE IF NOT EXISTS order_items",
			"REFERENCES orders(id) ON DELETE CASCADE",
		},
		"create_transactions_table": {
			"CREATE TABLE IF NOT EXISTS transactions",
			"CREATE UNIQUE INDEX IF NOT EXISTS transactions_txn_number_key",
			"CHECK (amount_cents > 0)",
			"WHERE status = 'pending'",
		},
		"create_outbox_tables": {
			"CREATE TABLE IF NOT EXISTS outbox_events",
			"CREATE TABLE IF NOT EXISTS outbox_dlq",
			"WHERE published_at IS NULL",
		},
	}
	for suffix, checks := range cases {
		content := readMigration(t, suffix)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Index!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_refund_index.sql"), path)
	require.NoError(t, migrate.Validate(os.DirFS(dir)))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(body), "-- add_refund_index")
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.ErrorContains(t, migrate.Validate(os.DirFS(dir)), "invalid migration filename")
}

func TestValidateRejectsDuplicateVersionsAndMissingDown(t *testing.T) {
	dup := fstest.MapFS{
		"20260301090000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260301090000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	require.ErrorContains(t, migrate.Validate(dup), "used by both")

	oneWay := fstest.MapFS{"20260301090000_a.sql": {Data: []byte("-- +goose Up\n")}}
	require.ErrorContains(t, migrate.Validate(oneWay), "+goose Down")

	require.ErrorContains(t, migrate.Validate(fstest.MapFS{}), "no migrations")
}
