// Package paper: бумажный брокер: рынок настоящий, исполнение и позиции в памяти.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
)

// Broker исполняет заявки по текущему тику рынка без проскальзывания.
// SL/TP проверяются при каждом опросе позиций.
type Broker struct {
	market broker.Gateway
	log    *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	positions []models.Position
	history   []models.Deal
	metas     map[string]models.InstrumentMeta
	seq       int
}

var _ broker.Gateway = (*Broker)(nil)

func New(market broker.Gateway, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		market: market,
		log:    log,
		now:    time.Now,
		metas:  map[string]models.InstrumentMeta{},
	}
}

func (b *Broker) GetSnapshot(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	return b.market.GetSnapshot(ctx, symbol, timeframe, count)
}

func (b *Broker) GetTick(ctx context.Context, symbol string) (models.Tick, error) {
	return b.market.GetTick(ctx, symbol)
}

func (b *Broker) GetInstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error) {
	meta, err := b.market.GetInstrumentMeta(ctx, symbol)
	if err != nil {
		return meta, err
	}
	b.mu.Lock()
	b.metas[symbol] = meta
	b.mu.Unlock()
	return meta, nil
}

func (b *Broker) Ping(ctx context.Context) error { return b.market.Ping(ctx) }

func (b *Broker) SubmitOrder(ctx context.Context, o models.TradeOrder) (models.OrderResult, error) {
	tick, err := b.market.GetTick(ctx, o.Symbol)
	if err != nil {
		return models.OrderResult{}, err
	}
	if !tick.Valid() {
		return models.OrderResult{Status: models.OrderRejected, ErrorKind: models.ErrKindMarketClosed,
			Message: "no valid quote"}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if o.CloseTicket != "" {
		for _, p := range b.positions {
			if p.Ticket == o.CloseTicket {
				exit := exitPrice(p.Side, tick)
				b.closeLocked(p, exit, models.CloseReasonManual)
				return models.OrderResult{Status: models.OrderFilled, Ticket: p.Ticket, FillPrice: exit}, nil
			}
		}
		return models.OrderResult{Status: models.OrderRejected, ErrorKind: models.ErrKindUnknown,
			Message: "position " + o.CloseTicket + " not found"}, nil
	}

	if o.Volume <= 0 {
		return models.OrderResult{Status: models.OrderRejected, ErrorKind: models.ErrKindInvalidVolume,
			Message: "volume <= 0"}, nil
	}
	fill := tick.Ask
	if o.Side == models.SideSell {
		fill = tick.Bid
	}
	if !stopsValid(o.Side, fill, o.StopLoss, o.TakeProfit) {
		return models.OrderResult{Status: models.OrderRejected, ErrorKind: models.ErrKindInvalidStops,
			Message: fmt.Sprintf("stops sl=%.8f tp=%.8f on wrong side of %.8f", o.StopLoss, o.TakeProfit, fill)}, nil
	}

	b.seq++
	p := models.Position{
		Ticket:     fmt.Sprintf("P%d", b.seq),
		Symbol:     o.Symbol,
		Side:       o.Side,
		Volume:     o.Volume,
		OpenPrice:  fill,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Tag:        o.Tag,
		OpenedAt:   b.now().UTC(),
	}
	b.positions = append(b.positions, p)
	b.log.Info("[PAPER] filled", zap.String("ticket", p.Ticket), zap.String("side", string(p.Side)),
		zap.Float64("volume", p.Volume), zap.Float64("price", fill))
	return models.OrderResult{Status: models.OrderFilled, Ticket: p.Ticket, FillPrice: fill}, nil
}

// GetOpenPositions переоценивает позиции по рынку и закрывает сработавшие SL/TP.
func (b *Broker) GetOpenPositions(ctx context.Context, filter broker.PositionFilter) ([]models.Position, error) {
	ticks := map[string]models.Tick{}
	for _, sym := range b.symbols() {
		if filter.Symbol != "" && sym != filter.Symbol {
			continue
		}
		t, err := b.market.GetTick(ctx, sym)
		if err != nil {
			if broker.IsConnectionLost(err) {
				return nil, err
			}
			b.log.Warn("[PAPER] no quote, positions not marked", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		ticks[sym] = t
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.Position
	for _, p := range append([]models.Position(nil), b.positions...) {
		if t, ok := ticks[p.Symbol]; ok && t.Valid() {
			if reason, px, hit := triggered(p, t); hit {
				b.closeLocked(p, px, reason)
				continue
			}
			b.markLocked(p.Ticket, exitPrice(p.Side, t))
		}
		if filter.Match(p) {
			out = append(out, b.findLocked(p.Ticket))
		}
	}
	return out, nil
}

func (b *Broker) GetTradeHistory(_ context.Context, q broker.HistoryQuery) ([]models.Deal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Deal
	for _, d := range b.history {
		if q.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (b *Broker) symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range b.positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

// profitLocked: P&L в валюте котировки: ход в пунктах × стоимость пункта × объём.
func (b *Broker) profitLocked(p models.Position, exit float64) float64 {
	diff := exit - p.OpenPrice
	if p.Side == models.SideSell {
		diff = -diff
	}
	meta, ok := b.metas[p.Symbol]
	if !ok || meta.Point <= 0 || meta.TickValue <= 0 {
		return diff * p.Volume
	}
	return diff / meta.Point * meta.TickValue * p.Volume
}

func (b *Broker) markLocked(ticket string, exit float64) {
	for i := range b.positions {
		if b.positions[i].Ticket == ticket {
			b.positions[i].Profit = b.profitLocked(b.positions[i], exit)
			return
		}
	}
}

func (b *Broker) findLocked(ticket string) models.Position {
	for _, p := range b.positions {
		if p.Ticket == ticket {
			return p
		}
	}
	return models.Position{}
}

func (b *Broker) closeLocked(p models.Position, exit float64, reason models.CloseReason) {
	for i := range b.positions {
		if b.positions[i].Ticket == p.Ticket {
			b.positions = append(b.positions[:i], b.positions[i+1:]...)
			break
		}
	}
	profit := b.profitLocked(p, exit)
	b.history = append(b.history, models.Deal{
		Ticket:         "D" + p.Ticket,
		PositionTicket: p.Ticket,
		Symbol:         p.Symbol,
		Side:           p.Side.Opposite(),
		Volume:         p.Volume,
		Price:          exit,
		Profit:         profit,
		Reason:         reason,
		Time:           b.now().UTC(),
	})
	b.log.Info("[PAPER] closed", zap.String("ticket", p.Ticket), zap.String("reason", string(reason)),
		zap.Float64("price", exit), zap.Float64("profit", profit))
}

// exitPrice: по какой стороне стакана закрывается позиция.
func exitPrice(side models.Side, t models.Tick) float64 {
	if side == models.SideBuy {
		return t.Bid
	}
	return t.Ask
}

// triggered: сработал ли SL/TP на текущем тике. Исполнение по уровню.
func triggered(p models.Position, t models.Tick) (models.CloseReason, float64, bool) {
	px := exitPrice(p.Side, t)
	switch p.Side {
	case models.SideBuy:
		if p.StopLoss > 0 && px <= p.StopLoss {
			return models.CloseReasonStopLoss, p.StopLoss, true
		}
		if p.TakeProfit > 0 && px >= p.TakeProfit {
			return models.CloseReasonTakeProfit, p.TakeProfit, true
		}
	case models.SideSell:
		if p.StopLoss > 0 && px >= p.StopLoss {
			return models.CloseReasonStopLoss, p.StopLoss, true
		}
		if p.TakeProfit > 0 && px <= p.TakeProfit {
			return models.CloseReasonTakeProfit, p.TakeProfit, true
		}
	}
	return "", 0, false
}

func stopsValid(side models.Side, fill, sl, tp float64) bool {
	if side == models.SideBuy {
		return (sl == 0 || sl < fill) && (tp == 0 || tp > fill)
	}
	return (sl == 0 || sl > fill) && (tp == 0 || tp < fill)
}
