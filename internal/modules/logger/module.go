package logger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
)

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// Sync на stderr возвращает EINVAL на части систем, это не ошибка остановки
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func Module() fx.Option {
	return fx.Module("logger",
		fx.Provide(NewLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}
