package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_engine/internal/modules/config"
	"trade_engine/pkg/tracing"
)

func NewTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	tracer, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := closer.Close(); err != nil {
				log.Warn("[TRACE] closing tracer", zap.Error(err))
			}
			return nil
		},
	})
	if _, noop := tracer.(opentracing.NoopTracer); noop {
		log.Info("[TRACE] tracing disabled")
	} else {
		log.Info("[TRACE] jaeger tracer ready", zap.String("agent", cfg.Tracing.Host))
	}
	return tracer, nil
}

func Module() fx.Option {
	return fx.Module("tracing",
		fx.Provide(NewTracer),
	)
}
