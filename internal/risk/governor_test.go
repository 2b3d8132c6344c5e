package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_engine/internal/models"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newGovernor(b models.RiskBudget) (*Governor, *models.BotRuntimeState) {
	st := &models.BotRuntimeState{}
	g := NewGovernor(b, st)
	g.Rollover(t0)
	return g, st
}

func TestDailyTradeLimit(t *testing.T) {
	g, st := newGovernor(models.RiskBudget{MaxTradesPerDay: 3, MaxPositions: 10})

	for i := 0; i < 3; i++ {
		d := g.Check(t0.Add(time.Duration(i)*time.Minute), 0)
		require.True(t, d.Allowed, "trade %d", i+1)
		g.Commit()
	}
	assert.Equal(t, 3, st.DailyTrades)

	d := g.Check(t0.Add(time.Hour), 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyTradeLimit, d.Reason)
}

func TestCheckOrder(t *testing.T) {
	tests := []struct {
		name   string
		budget models.RiskBudget
		state  models.BotRuntimeState
		open   int
		want   Reason
	}{
		{
			name:   "trade limit wins over everything",
			budget: models.RiskBudget{MaxTradesPerDay: 1, MaxDailyLoss: 10, MaxPositions: 1, Cooldown: time.Hour},
			state:  models.BotRuntimeState{DailyTrades: 1, DailyRealizedPnL: -50, LastExecution: t0},
			open:   5,
			want:   ReasonDailyTradeLimit,
		},
		{
			name:   "loss floor reached",
			budget: models.RiskBudget{MaxTradesPerDay: 5, MaxDailyLoss: 10, MaxPositions: 1},
			state:  models.BotRuntimeState{DailyRealizedPnL: -10},
			open:   5,
			want:   ReasonDailyLossLimit,
		},
		{
			name:   "profit cap reached",
			budget: models.RiskBudget{MaxTradesPerDay: 5, MaxDailyProfit: 20, MaxPositions: 1},
			state:  models.BotRuntimeState{DailyRealizedPnL: 25},
			open:   1,
			want:   ReasonDailyProfitCap,
		},
		{
			name:   "max positions",
			budget: models.RiskBudget{MaxTradesPerDay: 5, MaxPositions: 2, Cooldown: time.Hour},
			state:  models.BotRuntimeState{LastExecution: t0},
			open:   2,
			want:   ReasonMaxPositions,
		},
		{
			name:   "cooldown",
			budget: models.RiskBudget{MaxTradesPerDay: 5, MaxPositions: 2, Cooldown: time.Hour},
			state:  models.BotRuntimeState{LastExecution: t0.Add(-30 * time.Minute)},
			open:   1,
			want:   ReasonCooldown,
		},
		{
			name:   "zero loss limit is disabled",
			budget: models.RiskBudget{MaxTradesPerDay: 5, MaxPositions: 2},
			state:  models.BotRuntimeState{DailyRealizedPnL: -1000},
			want:   ReasonNone,
		},
		{
			name:   "cooldown elapsed",
			budget: models.RiskBudget{MaxTradesPerDay: 5, MaxPositions: 2, Cooldown: time.Hour},
			state:  models.BotRuntimeState{LastExecution: t0.Add(-time.Hour)},
			want:   ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.state
			g := NewGovernor(tt.budget, &st)

			d := g.Check(t0, tt.open)
			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.want == ReasonNone, d.Allowed)
		})
	}
}

func TestDenialDoesNotTouchCounters(t *testing.T) {
	g, st := newGovernor(models.RiskBudget{MaxTradesPerDay: 5, MaxPositions: 1})

	d := g.Check(t0, 1)
	require.False(t, d.Allowed)
	assert.Zero(t, st.DailyTrades)
	assert.True(t, st.LastExecution.IsZero())
}

func TestRollback(t *testing.T) {
	g, st := newGovernor(models.RiskBudget{MaxTradesPerDay: 5, MaxPositions: 5, Cooldown: time.Minute})

	require.True(t, g.Check(t0, 0).Allowed)
	g.Commit()
	first := st.LastExecution

	later := t0.Add(2 * time.Minute)
	require.True(t, g.Check(later, 0).Allowed)
	assert.Equal(t, 2, st.DailyTrades)

	g.Rollback()
	assert.Equal(t, 1, st.DailyTrades)
	assert.Equal(t, first, st.LastExecution)

	g.Rollback()
	assert.Equal(t, 1, st.DailyTrades, "second rollback is a no-op")
}

func TestRollover(t *testing.T) {
	g, st := newGovernor(models.RiskBudget{MaxTradesPerDay: 1, MaxPositions: 5, ResetHourUTC: 0})

	require.True(t, g.Check(t0, 0).Allowed)
	g.Commit()
	g.RecordRealized(-4.5)

	assert.False(t, g.Rollover(t0.Add(6*time.Hour)), "same day")
	assert.False(t, g.Check(t0.Add(6*time.Hour), 0).Allowed)

	assert.True(t, g.Rollover(t0.Add(13*time.Hour)))
	assert.Zero(t, st.DailyTrades)
	assert.Zero(t, st.DailyRealizedPnL)
	assert.Equal(t, t0, st.LastExecution, "cooldown survives the reset")
	assert.True(t, g.Check(t0.Add(13*time.Hour), 0).Allowed)
}

func TestDayStart(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 3, 10, h, 30, 0, 0, time.UTC) }

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), DayStart(at(12), 0))
	assert.Equal(t, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), DayStart(at(12), 7))
	assert.Equal(t, time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC), DayStart(at(3), 7))
}
