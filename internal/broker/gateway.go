// Package broker описывает границу с торговой площадкой. Ядро ходит только
// через Gateway, реальные клиенты лежат в подпакетах.
package broker

import (
	"context"
	"time"

	"trade_engine/internal/models"
)

// Gateway: всё, что ядру нужно от брокера.
type Gateway interface {
	GetSnapshot(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error)
	GetTick(ctx context.Context, symbol string) (models.Tick, error)
	GetInstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error)
	SubmitOrder(ctx context.Context, order models.TradeOrder) (models.OrderResult, error)
	GetOpenPositions(ctx context.Context, filter PositionFilter) ([]models.Position, error)
	GetTradeHistory(ctx context.Context, q HistoryQuery) ([]models.Deal, error)
	Ping(ctx context.Context) error
}

// PositionFilter: пустые поля не фильтруют.
type PositionFilter struct {
	Symbol string
	Tag    string
}

func (f PositionFilter) Match(p models.Position) bool {
	if f.Symbol != "" && p.Symbol != f.Symbol {
		return false
	}
	if f.Tag != "" && p.Tag != f.Tag {
		return false
	}
	return true
}

// HistoryQuery: выборка истории по тикетам позиций и/или окну времени.
type HistoryQuery struct {
	Symbol  string
	Tickets []string
	From    time.Time
	To      time.Time
}

func (q HistoryQuery) Match(d models.Deal) bool {
	if q.Symbol != "" && d.Symbol != q.Symbol {
		return false
	}
	if !q.From.IsZero() && d.Time.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && d.Time.After(q.To) {
		return false
	}
	if len(q.Tickets) == 0 {
		return true
	}
	for _, t := range q.Tickets {
		if t == d.PositionTicket || t == d.Ticket {
			return true
		}
	}
	return false
}
