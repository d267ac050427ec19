package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

// Models lists every table the services persist, in dependency order.
func Models() []any {
	return []any{
		&models.Product{},
		&models.InventoryItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.Transaction{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// MaybeRunDev migrates the database on startup in dev when AutoMigrate is
// set. SQLite databases are migrated from the models since the SQL files
// target Postgres.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "sqlite": cfg.FeatureFlags.UseSQLite})

	if cfg.FeatureFlags.UseSQLite {
		logg.Info(ctx, "auto-migrating sqlite schema from models")
		if err := client.DB().WithContext(ctx).AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("sqlite automigrate: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	logg.Info(ctx, "applying embedded migrations")
	return Run(ctx, sqlDB, Embedded(), "up", "", logg)
}
