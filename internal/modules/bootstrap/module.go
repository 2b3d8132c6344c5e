package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	bootstrap "trade_engine/internal/modules/bootstrap/service"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/runner"
)

func NewLauncher(pool *runner.Pool, log *zap.Logger) *bootstrap.Launcher {
	return bootstrap.NewLauncher(pool, log)
}

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(NewLauncher),
		fx.Invoke(func(lc fx.Lifecycle, bots config.Bots, l *bootstrap.Launcher) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// ctx старта fx живёт до конца OnStart, боты его не наследуют
					_, err := l.Launch(ctx, bots)
					return err
				},
			})
		}),
	)
}
