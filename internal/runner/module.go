package runner

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/events"
	"trade_engine/internal/strategy"
)

type Params struct {
	fx.In

	Gateway    broker.Gateway
	Classifier strategy.Classifier `optional:"true"`
	Sink       events.Sink
	Tracer     opentracing.Tracer
	Log        *zap.Logger
}

func NewPoolFx(lc fx.Lifecycle, p Params) *Pool {
	pool := NewPool(Deps{
		Gateway:    p.Gateway,
		Classifier: p.Classifier,
		Sink:       p.Sink,
		Tracer:     p.Tracer,
		Log:        p.Log,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// отказы из-за открытых позиций не валят остановку сервиса: позиции
			// остаются на площадке с тегом бота и подхватятся при следующем старте
			if err := pool.StopAll(ctx); err != nil {
				p.Log.Warn("[POOL] not all bots stopped", zap.Error(err))
			}
			return nil
		},
	})
	return pool
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(NewPoolFx),
	)
}
