package broker

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade_engine/internal/broker"
	"trade_engine/internal/broker/okx"
	"trade_engine/internal/broker/paper"
	"trade_engine/internal/modules/config"
)

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    *config.Config
	Bots   config.Bots
	Tracer opentracing.Tracer
	Log    *zap.Logger
}

type Result struct {
	fx.Out

	Gateway broker.Gateway
	Stream  *okx.TickerStream
}

// NewGateway собирает площадку: OKX даёт рынок всегда, исполнение: OKX или бумажное.
// Все боты ходят через один Serialized.
func NewGateway(p Params) Result {
	log := p.Log.Named("broker")

	symbols := make([]string, 0, len(p.Bots))
	for _, b := range p.Bots {
		symbols = append(symbols, b.Symbol)
	}
	stream := okx.NewTickerStream(p.Cfg.Broker.OKX.WSURL, symbols, log)
	client := okx.New(p.Cfg.Broker.OKX, log).WithStream(stream)

	var gw broker.Gateway = client
	if p.Cfg.Broker.Kind == "paper" {
		gw = paper.New(client, log)
	}

	var limiter *rate.Limiter
	if p.Cfg.Broker.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.Cfg.Broker.RPS), max(p.Cfg.Broker.Burst, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				stream.Run(ctx)
			}()
			log.Info("[BROKER] ready", zap.String("kind", p.Cfg.Broker.Kind), zap.Strings("symbols", symbols))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})

	return Result{
		Gateway: broker.NewSerialized(gw, limiter, p.Tracer),
		Stream:  stream,
	}
}

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(NewGateway),
	)
}
