package migrate

import (
	"context"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot, only in dev with
// STOREFRONT_AUTO_MIGRATE set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.App.AutoMigrate {
		return nil
	}
	sqlDB, err := client.SQL()
	if err != nil {
		return err
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return err
	}
	logg.Info(ctx, "schema migrated")
	return nil
}
