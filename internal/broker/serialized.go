package broker

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"trade_engine/internal/models"
)

// Serialized пропускает вызовы к брокеру строго по одному. Клиент площадки может
// быть не реентерабельным, а пользуются им все боты сразу.
type Serialized struct {
	mu      sync.Mutex
	next    Gateway
	limiter *rate.Limiter
	tracer  opentracing.Tracer
}

// NewSerialized оборачивает gateway. limiter и tracer необязательны.
func NewSerialized(next Gateway, limiter *rate.Limiter, tracer opentracing.Tracer) *Serialized {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	return &Serialized{next: next, limiter: limiter, tracer: tracer}
}

func (s *Serialized) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, s.tracer, "broker."+op)
	defer span.Finish()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Wrapf(err, "broker.%s: rate limit wait", op)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
	return err
}

func (s *Serialized) GetSnapshot(ctx context.Context, symbol, timeframe string, count int) (out []models.Candle, err error) {
	err = s.call(ctx, "get_snapshot", func(ctx context.Context) error {
		out, err = s.next.GetSnapshot(ctx, symbol, timeframe, count)
		return err
	})
	return out, err
}

func (s *Serialized) GetTick(ctx context.Context, symbol string) (out models.Tick, err error) {
	err = s.call(ctx, "get_tick", func(ctx context.Context) error {
		out, err = s.next.GetTick(ctx, symbol)
		return err
	})
	return out, err
}

func (s *Serialized) GetInstrumentMeta(ctx context.Context, symbol string) (out models.InstrumentMeta, err error) {
	err = s.call(ctx, "get_instrument_meta", func(ctx context.Context) error {
		out, err = s.next.GetInstrumentMeta(ctx, symbol)
		return err
	})
	return out, err
}

func (s *Serialized) SubmitOrder(ctx context.Context, order models.TradeOrder) (out models.OrderResult, err error) {
	err = s.call(ctx, "submit_order", func(ctx context.Context) error {
		out, err = s.next.SubmitOrder(ctx, order)
		return err
	})
	return out, err
}

func (s *Serialized) GetOpenPositions(ctx context.Context, filter PositionFilter) (out []models.Position, err error) {
	err = s.call(ctx, "get_open_positions", func(ctx context.Context) error {
		out, err = s.next.GetOpenPositions(ctx, filter)
		return err
	})
	return out, err
}

func (s *Serialized) GetTradeHistory(ctx context.Context, q HistoryQuery) (out []models.Deal, err error) {
	err = s.call(ctx, "get_trade_history", func(ctx context.Context) error {
		out, err = s.next.GetTradeHistory(ctx, q)
		return err
	})
	return out, err
}

func (s *Serialized) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", s.next.Ping)
}
