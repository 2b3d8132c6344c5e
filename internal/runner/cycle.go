package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/events"
	"trade_engine/internal/executor"
	"trade_engine/internal/indicators"
	"trade_engine/internal/models"
	"trade_engine/internal/strategy"
)

// runOnce: один проход: сутки, рынок, сверка тикетов, сигнал, риск, исполнение,
// ожидание закрытия, хедж.
func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, s.tracer, "bot.cycle")
	span.SetTag("bot", s.cfg.Name)
	span.SetTag("symbol", s.cfg.Symbol)
	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
			span.LogKV("error", err.Error())
		}
		span.Finish()
	}()

	now := s.now()
	if s.gov.Rollover(now) {
		s.log.Info("[RISK] new trading day, counters reset", zap.Time("day", s.runtime.Day))
	}

	candles, err := s.gw.GetSnapshot(ctx, s.cfg.Symbol, s.cfg.Timeframe, s.cfg.Candles)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("snapshot: %w", broker.ErrDataUnavailable)
	}
	tick, err := s.gw.GetTick(ctx, s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	meta, err := s.gw.GetInstrumentMeta(ctx, s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("meta: %w", err)
	}
	s.meta = meta
	snap := models.MarketSnapshot{Symbol: s.cfg.Symbol, Timeframe: s.cfg.Timeframe, Candles: candles, Tick: tick}

	positions, err := s.gw.GetOpenPositions(ctx, s.filter())
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	s.reconcile(ctx, positions)

	set := indicators.Calculate(snap.Candles, s.cfg.Indicators)
	sig := s.gen.Generate(ctx, set)
	s.setLastSignal(sig)
	span.SetTag("signal", sig.String())

	s.log.Info("[SIGNAL] "+sig.String(),
		zap.Float64("price", set.Price),
		zap.Float64("rsi", set.RSI),
		zap.Float64("sma_short", set.SMAShort),
		zap.Float64("sma_long", set.SMALong),
	)
	s.ev.Emit(ctx, events.TypeSignal, sig.String(), map[string]any{
		"side":       string(sig.Side),
		"confidence": sig.Confidence,
		"source":     string(sig.Source),
		"price":      set.Price,
		"rsi":        set.RSI,
	})

	placed, err := s.trade(ctx, span, sig, snap.Tick, len(positions))
	if err != nil {
		return err
	}

	if placed {
		if positions, err = s.gw.GetOpenPositions(ctx, s.filter()); err != nil {
			return fmt.Errorf("positions: %w", err)
		}
	}
	return s.hedge(ctx, positions, snap.Tick)
}

// trade проводит сигнал через фильтр, риск и исполнение. true: заявка исполнена.
func (s *Supervisor) trade(ctx context.Context, span opentracing.Span, sig models.Signal, tick models.Tick, open int) (bool, error) {
	gate := strategy.Gate(sig, s.cfg.MinConfidence)
	if !gate.Pass {
		span.SetTag("decision", "blocked")
		s.log.Info("[SIGNAL] "+gate.Reason, zap.Float64("min_confidence", s.cfg.MinConfidence))
		s.ev.Emit(ctx, events.TypeBlocked, gate.Reason, map[string]any{
			"side":           string(sig.Side),
			"confidence":     sig.Confidence,
			"min_confidence": s.cfg.MinConfidence,
		})
		return false, nil
	}
	if !gate.Execute {
		span.SetTag("decision", "hold")
		return false, nil
	}
	if !s.cfg.AutoExecute {
		span.SetTag("decision", "signal-only")
		return false, nil
	}

	dec := s.gov.Check(s.now(), open)
	if !dec.Allowed {
		span.SetTag("decision", "risk-denied")
		s.log.Info("[RISK] denied", zap.String("reason", string(dec.Reason)), zap.String("detail", dec.Detail))
		s.ev.Emit(ctx, events.TypeRiskDenied, string(dec.Reason), map[string]any{
			"reason": string(dec.Reason),
			"detail": dec.Detail,
		})
		return false, nil
	}

	res, err := s.exec.Execute(ctx, executor.Request{
		Symbol: s.cfg.Symbol,
		Tag:    s.cfg.Tag,
		Volume: s.cfg.Volume,
		Stops:  s.cfg.Stops,
		Signal: sig,
		Meta:   s.meta,
		Tick:   tick,
	})
	if err != nil {
		s.gov.Rollback()
		span.SetTag("decision", "transport-error")
		return false, err
	}
	if !res.Success {
		s.gov.Rollback()
		span.SetTag("decision", "rejected")
		s.onRejected(ctx, res)
		return false, nil
	}

	s.gov.Commit()
	span.SetTag("decision", "executed")
	p := res.Position
	s.tracked[p.Ticket] = p
	s.publish()

	s.log.Info("[EXEC] order placed",
		zap.String("ticket", p.Ticket),
		zap.String("side", string(p.Side)),
		zap.Float64("volume", p.Volume),
		zap.Float64("price", p.OpenPrice),
		zap.Float64("sl", p.StopLoss),
		zap.Float64("tp", p.TakeProfit),
	)
	s.ev.Emit(ctx, events.TypeOrderPlaced, fmt.Sprintf("%s %.4f @ %.5f", p.Side, p.Volume, p.OpenPrice), map[string]any{
		"ticket":      p.Ticket,
		"side":        string(p.Side),
		"volume":      p.Volume,
		"price":       p.OpenPrice,
		"sl":          p.StopLoss,
		"tp":          p.TakeProfit,
		"confidence":  sig.Confidence,
		"daily_trade": s.runtime.DailyTrades,
	})

	return true, s.waitClose(ctx, p)
}

func (s *Supervisor) onRejected(ctx context.Context, res executor.Result) {
	fields := []zap.Field{
		zap.String("kind", string(res.Kind)),
		zap.String("msg", res.Message),
		zap.String("client_id", res.Order.ClientID),
	}
	switch {
	case res.Kind.Transient():
		s.log.Debug("[EXEC] market unavailable, retry next cycle", fields...)
		return
	case res.Kind.InvalidParams():
		s.log.Error("[EXEC] invalid order params", fields...)
	default:
		s.log.Warn("[EXEC] order rejected", fields...)
	}
	s.ev.Emit(ctx, events.TypeOrderFailed, res.Err().Error(), map[string]any{
		"kind":   string(res.Kind),
		"side":   string(res.Order.Side),
		"volume": res.Order.Volume,
	})
}

// waitClose ждёт закрытия тикета. Stop прерывает ожидание, тикет остаётся
// отслеживаемым и сверяется в следующих циклах.
func (s *Supervisor) waitClose(ctx context.Context, p models.Position) error {
	wctx, stopping, release := s.interruptible(ctx)
	defer release()
	if stopping {
		return nil
	}

	out, err := s.mon.Wait(wctx, p.Ticket, s.filter(), s.cfg.Monitor.Timeout)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		s.log.Info("[MONITOR] wait interrupted by stop", zap.String("ticket", p.Ticket))
		return nil
	default:
		return err
	}
	if out.Closed {
		last := p
		if cur, ok := s.tracked[p.Ticket]; ok {
			last = cur
		}
		s.book(ctx, out, last)
	}
	return nil
}

// reconcile закрывает учёт по тикетам, которых больше нет среди открытых.
func (s *Supervisor) reconcile(ctx context.Context, open []models.Position) {
	live := make(map[string]models.Position, len(open))
	for _, p := range open {
		live[p.Ticket] = p
	}
	for ticket, last := range s.tracked {
		if p, ok := live[ticket]; ok {
			s.tracked[ticket] = p
			continue
		}
		s.book(ctx, s.mon.Resolve(ctx, ticket, s.cfg.Symbol), last)
	}
	for ticket, p := range live {
		if _, ok := s.tracked[ticket]; !ok {
			s.log.Info("[BOT] adopting position", zap.String("ticket", ticket))
			s.tracked[ticket] = p
		}
	}
}

// book фиксирует реализованный P&L закрытого тикета. Без сделки в истории
// берём последнюю известную прибыль позиции.
func (s *Supervisor) book(ctx context.Context, out models.CloseOutcome, last models.Position) {
	if out.Unconfirmed {
		out.Profit = last.Profit
	}
	delete(s.tracked, out.Ticket)
	s.gov.RecordRealized(out.Profit)
	s.publish()

	s.log.Info("[MONITOR] position closed",
		zap.String("ticket", out.Ticket),
		zap.String("reason", string(out.Reason)),
		zap.Float64("profit", out.Profit),
		zap.Bool("unconfirmed", out.Unconfirmed),
		zap.Float64("daily_pnl", s.runtime.DailyRealizedPnL),
	)
	s.ev.Emit(ctx, events.TypePositionClosed, fmt.Sprintf("%s closed by %s", out.Ticket, out.Reason), map[string]any{
		"ticket":      out.Ticket,
		"reason":      string(out.Reason),
		"profit":      out.Profit,
		"unconfirmed": out.Unconfirmed,
	})
}

func (s *Supervisor) hedge(ctx context.Context, positions []models.Position, tick models.Tick) error {
	if s.cfg.Hedge.Disabled || len(positions) < 2 {
		return nil
	}
	plan, closed, err := s.hedger.Resolve(ctx, positions, tick, s.cfg.Hedge)
	for _, p := range closed {
		s.book(ctx, s.mon.Resolve(ctx, p.Ticket, s.cfg.Symbol), p)
	}
	if len(closed) > 0 {
		tickets := make([]string, 0, len(closed))
		for _, p := range closed {
			tickets = append(tickets, p.Ticket)
		}
		s.ev.Emit(ctx, events.TypeHedgeClosed, fmt.Sprintf("closed %s side, net %.2f", plan.CloseSide, plan.Net), map[string]any{
			"side":        string(plan.CloseSide),
			"tickets":     tickets,
			"buy_profit":  plan.BuyProfit,
			"sell_profit": plan.SellProfit,
			"net":         plan.Net,
		})
	}
	return err
}
