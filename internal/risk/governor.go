// Package risk: дневной риск-бюджет бота.
//
// Governor не потокобезопасен: им владеет цикл одного бота, других писателей нет.
package risk

import (
	"fmt"
	"time"

	"trade_engine/internal/models"
)

type Reason string

const (
	ReasonNone            Reason = ""
	ReasonDailyTradeLimit Reason = "daily-trade-limit"
	ReasonDailyLossLimit  Reason = "daily-loss-limit"
	ReasonDailyProfitCap  Reason = "daily-profit-cap"
	ReasonMaxPositions    Reason = "max-positions"
	ReasonCooldown        Reason = "cooldown"
)

// Decision: результат проверки. Отказ: это не ошибка.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r Reason, format string, args ...any) Decision {
	return Decision{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

type Governor struct {
	budget models.RiskBudget
	state  *models.BotRuntimeState

	// резерв последнего Check для Rollback
	reserved bool
	prevLast time.Time
}

func NewGovernor(budget models.RiskBudget, state *models.BotRuntimeState) *Governor {
	return &Governor{budget: budget, state: state}
}

// DayStart: начало торговых суток, в которые попадает now.
func DayStart(now time.Time, resetHourUTC int) time.Time {
	t := now.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), resetHourUTC, 0, 0, 0, time.UTC)
	if t.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// Rollover сбрасывает дневные счётчики, если наступили новые сутки. Cooldown переживает сброс.
func (g *Governor) Rollover(now time.Time) bool {
	day := DayStart(now, g.budget.ResetHourUTC)
	if g.state.Day.IsZero() {
		g.state.Day = day
		return false
	}
	if !day.After(g.state.Day) {
		return false
	}

	g.state.Day = day
	g.state.DailyTrades = 0
	g.state.DailyRealizedPnL = 0
	g.reserved = false
	return true
}

// Check проверяет лимиты по порядку до первого отказа. При успехе сразу
// резервирует сделку: счётчик растёт и штампуется время исполнения.
func (g *Governor) Check(now time.Time, openPositions int) Decision {
	b, s := g.budget, g.state

	if s.DailyTrades >= b.MaxTradesPerDay {
		return deny(ReasonDailyTradeLimit, "trades %d/%d", s.DailyTrades, b.MaxTradesPerDay)
	}
	if b.MaxDailyLoss > 0 && s.DailyRealizedPnL <= -b.MaxDailyLoss {
		return deny(ReasonDailyLossLimit, "pnl %.2f, floor -%.2f", s.DailyRealizedPnL, b.MaxDailyLoss)
	}
	if b.MaxDailyProfit > 0 && s.DailyRealizedPnL >= b.MaxDailyProfit {
		return deny(ReasonDailyProfitCap, "pnl %.2f, cap %.2f", s.DailyRealizedPnL, b.MaxDailyProfit)
	}
	if b.MaxPositions > 0 && openPositions >= b.MaxPositions {
		return deny(ReasonMaxPositions, "open %d/%d", openPositions, b.MaxPositions)
	}
	if b.Cooldown > 0 && !s.LastExecution.IsZero() {
		if elapsed := now.Sub(s.LastExecution); elapsed < b.Cooldown {
			return deny(ReasonCooldown, "%s left", (b.Cooldown - elapsed).Truncate(time.Second))
		}
	}

	g.prevLast = s.LastExecution
	g.reserved = true
	s.DailyTrades++
	s.LastExecution = now
	return allow()
}

// Rollback снимает резерв последнего Check, если заявка до рынка не дошла.
func (g *Governor) Rollback() {
	if !g.reserved {
		return
	}
	g.reserved = false
	if g.state.DailyTrades > 0 {
		g.state.DailyTrades--
	}
	g.state.LastExecution = g.prevLast
}

// Commit фиксирует резерв: повторный Rollback уже ничего не снимет.
func (g *Governor) Commit() { g.reserved = false }

// RecordRealized добавляет реализованный P&L закрытой позиции.
func (g *Governor) RecordRealized(pnl float64) {
	g.state.DailyRealizedPnL += pnl
}
