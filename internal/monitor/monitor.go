// Package monitor следит за тикетом, пока позиция не закроется или не выйдет время.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
)

type Monitor struct {
	gw       broker.Gateway
	interval time.Duration
	log      *zap.Logger
}

func New(gw broker.Gateway, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{gw: gw, interval: interval, log: log}
}

// Wait опрашивает открытые позиции (первый опрос сразу), пока тикет не пропадёт.
// По таймауту отдаёт Closed=false и не раньше timeout. Потеря связи и отмена ctx
// прерывают ожидание с ошибкой; прочие ошибки опроса считаются "ещё открыт".
func (m *Monitor) Wait(ctx context.Context, ticket string, filter broker.PositionFilter, timeout time.Duration) (models.CloseOutcome, error) {
	pending := models.CloseOutcome{Ticket: ticket}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		open, err := m.isOpen(ctx, ticket, filter)
		switch {
		case err == nil && !open:
			return m.Resolve(ctx, ticket, filter.Symbol), nil
		case broker.IsConnectionLost(err):
			return pending, fmt.Errorf("monitor.Wait %s: %w", ticket, err)
		case err != nil:
			m.log.Warn("[MONITOR] poll failed", zap.String("ticket", ticket), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return pending, ctx.Err()
		case <-deadline.C:
			m.log.Info("[MONITOR] timeout, position still open",
				zap.String("ticket", ticket), zap.Duration("timeout", timeout))
			return pending, nil
		case <-ticker.C:
		}
	}
}

// Resolve достаёт причину закрытия и прибыль из истории. Истории нет: reason=unknown,
// Unconfirmed=true.
func (m *Monitor) Resolve(ctx context.Context, ticket, symbol string) models.CloseOutcome {
	out := models.CloseOutcome{Ticket: ticket, Closed: true, Reason: models.CloseReasonUnknown}

	deals, err := m.gw.GetTradeHistory(ctx, broker.HistoryQuery{Symbol: symbol, Tickets: []string{ticket}})
	if err != nil {
		m.log.Warn("[MONITOR] history unavailable", zap.String("ticket", ticket), zap.Error(err))
		out.Unconfirmed = true
		return out
	}

	found := false
	for _, d := range deals {
		if d.PositionTicket != ticket && d.Ticket != ticket {
			continue
		}
		found = true
		out.Profit += d.Profit
		if d.Reason != "" {
			out.Reason = d.Reason
		}
	}
	if !found {
		m.log.Warn("[MONITOR] no deals for closed ticket", zap.String("ticket", ticket))
		out.Unconfirmed = true
	}
	return out
}

func (m *Monitor) isOpen(ctx context.Context, ticket string, filter broker.PositionFilter) (bool, error) {
	positions, err := m.gw.GetOpenPositions(ctx, filter)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return true, nil
		}
	}
	return false, nil
}
