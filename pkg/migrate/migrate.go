package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

// SourceDir is where new migration files are written during development.
const SourceDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Run applies a goose command against Postgres. target is only read by
// "version", which migrates up or down to that version.
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, command, target string, logg *logger.Logger) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	var results []*goose.MigrationResult
	switch command {
	case "up":
		results, err = provider.Up(ctx)
	case "down":
		var res *goose.MigrationResult
		res, err = provider.Down(ctx)
		if res != nil {
			results = append(results, res)
		}
	case "version":
		results, err = migrateTo(ctx, provider, target)
	case "status":
		return logStatus(ctx, provider, logg)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	for _, r := range results {
		if logg != nil && r != nil && r.Source != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"version":     r.Source.Version,
				"direction":   r.Direction,
				"duration_ms": r.Duration.Milliseconds(),
			}), "migration applied")
		}
	}
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

func migrateTo(ctx context.Context, provider *goose.Provider, target string) ([]*goose.MigrationResult, error) {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}
	switch {
	case version > current:
		return provider.UpTo(ctx, version)
	case version < current:
		return provider.DownTo(ctx, version)
	}
	return nil, nil
}

func logStatus(ctx context.Context, provider *goose.Provider, logg *logger.Logger) error {
	statuses, err := provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	if logg == nil {
		return nil
	}
	for _, s := range statuses {
		fields := map[string]any{"version": s.Source.Version, "state": string(s.State)}
		if !s.AppliedAt.IsZero() {
			fields["applied_at"] = s.AppliedAt
		}
		logg.Info(logg.WithFields(ctx, fields), "migration status")
	}
	return nil
}
