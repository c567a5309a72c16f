package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/options"
)

// MigrateOptions brings the stored options record to the current schema on start.
func MigrateOptions(lc fx.Lifecycle, store *options.Store, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return migrateOptions(ctx, store, logger)
		},
	})
}

func migrateOptions(ctx context.Context, store *options.Store, logger *zap.Logger) error {
	migrated, err := store.MigrateIfNeeded(ctx)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Info("options ready",
			zap.Bool("migrated", migrated),
			zap.Int("schema_version", options.CurrentVersion),
		)
	}
	return nil
}
