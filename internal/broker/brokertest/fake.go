// Package brokertest: детерминированный брокер для тестов.
package brokertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
)

// Fake хранит рынок и позиции в памяти. Поведение задаётся сценариями:
// отказ следующей заявки, ошибка метода, исчезновение тикета через N опросов.
type Fake struct {
	mu sync.Mutex

	candles   map[string][]models.Candle
	ticks     map[string]models.Tick
	metas     map[string]models.InstrumentMeta
	positions []models.Position
	history   []models.Deal
	orders    []models.TradeOrder

	rejects    []models.ErrorKind
	failures   map[string][]error
	broken     map[string]error
	vanishAt   map[string]int // тикет -> номер опроса, на котором он пропадёт
	vanishDeal map[string]models.Deal
	polls      int
	seq        int

	// Delay: задержка каждого вызова, чтобы ловить параллельные обращения.
	Delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int64
}

func New() *Fake {
	return &Fake{
		candles:    map[string][]models.Candle{},
		ticks:      map[string]models.Tick{},
		metas:      map[string]models.InstrumentMeta{},
		failures:   map[string][]error{},
		broken:     map[string]error{},
		vanishAt:   map[string]int{},
		vanishDeal: map[string]models.Deal{},
	}
}

var _ broker.Gateway = (*Fake)(nil)

// Market задаёт свечи, тик и метаданные инструмента одним вызовом.
func (f *Fake) Market(symbol string, closes []float64, bid, ask float64, meta models.InstrumentMeta) {
	candles := make([]models.Candle, len(closes))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = models.Candle{OpenTime: start.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	meta.Symbol = symbol

	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[symbol] = candles
	f.ticks[symbol] = models.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: start}
	f.metas[symbol] = meta
}

func (f *Fake) SetTick(symbol string, bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks[symbol] = models.Tick{Symbol: symbol, Bid: bid, Ask: ask}
}

// AddPosition кладёт открытую позицию; пустой тикет будет сгенерирован.
func (f *Fake) AddPosition(p models.Position) models.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Ticket == "" {
		p.Ticket = f.nextTicket()
	}
	f.positions = append(f.positions, p)
	return p
}

func (f *Fake) SetProfit(ticket string, profit float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.positions {
		if f.positions[i].Ticket == ticket {
			f.positions[i].Profit = profit
		}
	}
}

// ClosePosition убирает позицию и пишет сделку в историю.
func (f *Fake) ClosePosition(ticket string, reason models.CloseReason, profit float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked(ticket, reason, profit)
}

// VanishAfterPolls: тикет пропадёт на n+1-м опросе GetOpenPositions.
// deal == nil: истории не будет.
func (f *Fake) VanishAfterPolls(ticket string, n int, deal *models.Deal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vanishAt[ticket] = f.polls + n + 1
	if deal != nil {
		f.vanishDeal[ticket] = *deal
	}
}

// RejectNext: следующая заявка получит отказ с этим классом.
func (f *Fake) RejectNext(kind models.ErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, kind)
}

// FailNext: следующий вызов метода вернёт err.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], err)
}

// FailAlways: метод будет падать, пока не вызван Recover.
func (f *Fake) FailAlways(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken[method] = err
}

func (f *Fake) Recover(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, method)
	delete(f.broken, method)
}

func (f *Fake) Orders() []models.TradeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TradeOrder(nil), f.orders...)
}

func (f *Fake) Positions() []models.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Position(nil), f.positions...)
}

func (f *Fake) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// MaxInFlight: наибольшее число одновременных вызовов.
func (f *Fake) MaxInFlight() int { return int(f.maxInFlight.Load()) }

func (f *Fake) Calls() int64 { return f.calls.Load() }

func (f *Fake) enter(method string) error {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.broken[method]; err != nil {
		return err
	}
	if q := f.failures[method]; len(q) > 0 {
		f.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) exit() { f.inFlight.Add(-1) }

func (f *Fake) GetSnapshot(_ context.Context, symbol, _ string, count int) ([]models.Candle, error) {
	defer f.exit()
	if err := f.enter("GetSnapshot"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.candles[symbol]
	if len(c) == 0 {
		return nil, broker.ErrDataUnavailable
	}
	if count > 0 && len(c) > count {
		c = c[len(c)-count:]
	}
	return append([]models.Candle(nil), c...), nil
}

func (f *Fake) GetTick(_ context.Context, symbol string) (models.Tick, error) {
	defer f.exit()
	if err := f.enter("GetTick"); err != nil {
		return models.Tick{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.ticks[symbol]
	if !ok {
		return models.Tick{}, broker.ErrDataUnavailable
	}
	return t, nil
}

func (f *Fake) GetInstrumentMeta(_ context.Context, symbol string) (models.InstrumentMeta, error) {
	defer f.exit()
	if err := f.enter("GetInstrumentMeta"); err != nil {
		return models.InstrumentMeta{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.metas[symbol]
	if !ok {
		return models.InstrumentMeta{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return m, nil
}

func (f *Fake) SubmitOrder(_ context.Context, o models.TradeOrder) (models.OrderResult, error) {
	defer f.exit()
	if err := f.enter("SubmitOrder"); err != nil {
		return models.OrderResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.orders = append(f.orders, o)
	if len(f.rejects) > 0 {
		kind := f.rejects[0]
		f.rejects = f.rejects[1:]
		return models.OrderResult{Status: models.OrderRejected, ErrorKind: kind, Message: "rejected by fake"}, nil
	}

	if o.CloseTicket != "" {
		for _, p := range f.positions {
			if p.Ticket == o.CloseTicket {
				f.closeLocked(p.Ticket, models.CloseReasonHedge, p.Profit)
				return models.OrderResult{Status: models.OrderFilled, Ticket: p.Ticket, FillPrice: o.Price}, nil
			}
		}
		return models.OrderResult{Status: models.OrderRejected, ErrorKind: models.ErrKindUnknown, Message: "position not found"}, nil
	}

	p := models.Position{
		Ticket:     f.nextTicket(),
		Symbol:     o.Symbol,
		Side:       o.Side,
		Volume:     o.Volume,
		OpenPrice:  o.Price,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Tag:        o.Tag,
	}
	f.positions = append(f.positions, p)
	return models.OrderResult{Status: models.OrderFilled, Ticket: p.Ticket, FillPrice: o.Price}, nil
}

func (f *Fake) GetOpenPositions(_ context.Context, filter broker.PositionFilter) ([]models.Position, error) {
	defer f.exit()
	if err := f.enter("GetOpenPositions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls++
	for ticket, at := range f.vanishAt {
		if f.polls >= at {
			d, ok := f.vanishDeal[ticket]
			delete(f.vanishAt, ticket)
			delete(f.vanishDeal, ticket)
			f.removeLocked(ticket)
			if ok {
				f.history = append(f.history, d)
			}
		}
	}

	var out []models.Position
	for _, p := range f.positions {
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) GetTradeHistory(_ context.Context, q broker.HistoryQuery) ([]models.Deal, error) {
	defer f.exit()
	if err := f.enter("GetTradeHistory"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Deal
	for _, d := range f.history {
		if q.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Fake) Ping(context.Context) error {
	defer f.exit()
	return f.enter("Ping")
}

func (f *Fake) nextTicket() string {
	f.seq++
	return fmt.Sprintf("T%d", f.seq)
}

func (f *Fake) closeLocked(ticket string, reason models.CloseReason, profit float64) {
	p, ok := f.removeLocked(ticket)
	if !ok {
		return
	}
	f.history = append(f.history, models.Deal{
		Ticket:         "D" + ticket,
		PositionTicket: ticket,
		Symbol:         p.Symbol,
		Side:           p.Side.Opposite(),
		Volume:         p.Volume,
		Profit:         profit,
		Reason:         reason,
		Time:           time.Now(),
	})
}

func (f *Fake) removeLocked(ticket string) (models.Position, bool) {
	for i, p := range f.positions {
		if p.Ticket == ticket {
			f.positions = append(f.positions[:i], f.positions[i+1:]...)
			return p, true
		}
	}
	return models.Position{}, false
}
