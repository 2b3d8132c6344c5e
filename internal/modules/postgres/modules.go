package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_engine/internal/modules/config"
	"trade_engine/pkg/db"
)

// NewTxManager поднимает пул, если задан db_dsn. Без DSN отдаёт nil: хранилище событий
// тогда выбирается другое.
func NewTxManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*db.PgTxManager, error) {
	if cfg.DB == "" {
		return nil, nil
	}
	ctx := context.Background()
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	if err = poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	m := db.NewPgTxManager(poolMaster, log.Named("pg"))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			m.Close()
			return nil
		},
	})
	return m, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(NewTxManager),
	)
}
