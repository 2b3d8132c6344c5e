package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_engine/internal/models"
)

func TestMoneyDistance(t *testing.T) {
	t.Run("formula round trip", func(t *testing.T) {
		const point, tickValue, volume, target = 0.01, 0.01, 0.01, 0.50

		dist := MoneyDistance(target, point, tickValue, volume)
		assert.InDelta(t, 50.0, dist, 1e-9) // 0.5*0.01 / (0.01*0.01)

		points := MoneyToPoints(target, point, tickValue, volume)
		assert.InDelta(t, dist/point, points, 1e-6)
		assert.InDelta(t, target, PointsValue(points, tickValue, volume), 1e-9)
	})

	t.Run("500 points", func(t *testing.T) {
		points := MoneyToPoints(0.50, 0.01, 0.1, 0.01)
		assert.InDelta(t, 500.0, points, 1e-6)
		assert.InDelta(t, 0.50, PointsValue(points, 0.1, 0.01), 1e-9)
	})

	t.Run("degenerate inputs", func(t *testing.T) {
		assert.Zero(t, MoneyDistance(0.5, 0.01, 0, 0.01))
		assert.Zero(t, MoneyDistance(0.5, 0.01, 0.01, 0))
		assert.Zero(t, MoneyToPoints(0.5, 0, 0.01, 0.01))
	})
}

func TestNormalizeVolume(t *testing.T) {
	meta := models.InstrumentMeta{MinVolume: 0.01, MaxVolume: 10, VolumeStep: 0.01}

	v, err := NormalizeVolume(0.037, meta)
	require.NoError(t, err)
	assert.Equal(t, 0.03, v)

	v, err = NormalizeVolume(50, meta)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	_, err = NormalizeVolume(0.005, meta)
	assert.Error(t, err)

	_, err = NormalizeVolume(0, meta)
	assert.Error(t, err)
}

func TestComputeLevels(t *testing.T) {
	crypto := models.InstrumentMeta{Symbol: "BTC", Digits: 2, Point: 0.01, TickSize: 0.01, TickValue: 0.01}
	gold := models.InstrumentMeta{Symbol: "XAU", Digits: 2, Point: 0.01, TickSize: 0.01, TickValue: 1, MinStopPoints: 100}

	tests := []struct {
		name   string
		side   models.Side
		entry  float64
		volume float64
		meta   models.InstrumentMeta
		spec   models.StopSpec
		sl, tp float64
	}{
		{
			name: "percent buy", side: models.SideBuy, entry: 100, volume: 1, meta: crypto,
			spec: models.StopSpec{Mode: models.StopModePercent, StopLossPct: 0.01, TakeProfitPct: 0.02},
			sl:   99, tp: 102,
		},
		{
			name: "percent sell", side: models.SideSell, entry: 100, volume: 1, meta: crypto,
			spec: models.StopSpec{Mode: models.StopModePercent, StopLossPct: 0.01, TakeProfitPct: 0.02},
			sl:   101, tp: 98,
		},
		{
			name: "points buy", side: models.SideBuy, entry: 2000, volume: 0.01, meta: gold,
			spec: models.StopSpec{Mode: models.StopModePoints, StopLossPoints: 300, TakeProfitPoints: 600},
			sl:   1997, tp: 2006,
		},
		{
			name: "money sell", side: models.SideSell, entry: 2000, volume: 0.01, meta: gold,
			// 0.5 * 0.01 / (1 * 0.01) = 0.5 по цене; минимум 100 пунктов = 1.0
			spec: models.StopSpec{Mode: models.StopModePoints, StopLossMoney: 0.5, TakeProfitMoney: 3},
			sl:   2001, tp: 1997,
		},
		{
			name: "stop loss only", side: models.SideBuy, entry: 100, volume: 1, meta: crypto,
			spec: models.StopSpec{Mode: models.StopModePercent, StopLossPct: 0.05},
			sl:   95, tp: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lv, err := ComputeLevels(tt.side, tt.entry, tt.volume, tt.meta, tt.spec)
			require.NoError(t, err)
			assert.InDelta(t, tt.sl, lv.StopLoss, 1e-9)
			assert.InDelta(t, tt.tp, lv.TakeProfit, 1e-9)
			assert.Equal(t, tt.entry, lv.Entry)
		})
	}
}

func TestComputeLevelsErrors(t *testing.T) {
	meta := models.InstrumentMeta{Point: 0.01, TickSize: 0.01}

	_, err := ComputeLevels(models.SideHold, 100, 1, meta, models.StopSpec{})
	assert.Error(t, err)

	_, err = ComputeLevels(models.SideBuy, 100, 1, models.InstrumentMeta{}, models.StopSpec{StopLossPct: 0.01})
	assert.Error(t, err, "no point size")

	_, err = ComputeLevels(models.SideBuy, 1, 1, meta, models.StopSpec{Mode: models.StopModePoints, StopLossPoints: 500})
	assert.Error(t, err, "stop below zero")

	_, err = ComputeLevels(models.SideBuy, 100, 1, meta, models.StopSpec{Mode: models.StopModePoints, StopLossMoney: 1})
	assert.Error(t, err, "money stops without tick value")
}
