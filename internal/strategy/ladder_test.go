package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trade_engine/internal/models"
)

func TestEvaluateLadder(t *testing.T) {
	th := models.DefaultRuleThresholds()

	up := func(rsi float64) models.IndicatorSet {
		return models.IndicatorSet{RSI: rsi, Price: 110, SMAShort: 105, SMALong: 100}
	}
	down := func(rsi float64) models.IndicatorSet {
		return models.IndicatorSet{RSI: rsi, Price: 90, SMAShort: 95, SMALong: 100}
	}
	flat := func(rsi float64) models.IndicatorSet {
		return models.IndicatorSet{RSI: rsi, Price: 100, SMAShort: 100, SMALong: 100}
	}

	tests := []struct {
		name string
		in   models.IndicatorSet
		side models.Side
		conf float64
	}{
		{name: "oversold beats downtrend", in: down(25), side: models.SideBuy, conf: 0.85},
		{name: "oversold in uptrend", in: up(25), side: models.SideBuy, conf: 0.85},
		{name: "oversold flat", in: flat(25), side: models.SideBuy, conf: 0.85},
		{name: "overbought beats uptrend", in: up(75), side: models.SideSell, conf: 0.85},
		{name: "pullback in uptrend", in: up(35), side: models.SideBuy, conf: 0.70},
		{name: "rally in downtrend", in: down(65), side: models.SideSell, conf: 0.70},
		{name: "uptrend momentum", in: up(55), side: models.SideBuy, conf: 0.65},
		{name: "downtrend momentum", in: down(45), side: models.SideSell, conf: 0.65},
		{name: "uptrend with weak rsi", in: up(45), side: models.SideHold, conf: 0.50},
		{name: "downtrend with strong rsi", in: down(55), side: models.SideHold, conf: 0.50},
		{name: "rsi exactly 30 is not oversold", in: flat(30), side: models.SideHold, conf: 0.50},
		{name: "rsi exactly 70 is not overbought", in: flat(70), side: models.SideHold, conf: 0.50},
		{name: "neutral", in: flat(50), side: models.SideHold, conf: 0.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Evaluate(tt.in, th)
			assert.Equal(t, tt.side, sig.Side)
			assert.InDelta(t, tt.conf, sig.Confidence, 1e-9)
			assert.Equal(t, models.SourceRules, sig.Source)
			assert.NotEmpty(t, sig.Reason)
		})
	}
}

func TestEvaluateCustomThresholds(t *testing.T) {
	th := models.DefaultRuleThresholds()
	th.OversoldExtreme = 20
	th.ExtremeConfidence = 0.9

	sig := Evaluate(models.IndicatorSet{RSI: 25, Price: 100, SMAShort: 100, SMALong: 100}, th)
	assert.Equal(t, models.SideHold, sig.Side)

	sig = Evaluate(models.IndicatorSet{RSI: 15}, th)
	assert.Equal(t, models.SideBuy, sig.Side)
	assert.Equal(t, 0.9, sig.Confidence)
}

func TestEvaluatePartialRulesOverride(t *testing.T) {
	cfg := models.BotConfig{Symbol: "XAU", Volume: 1, Rules: models.RuleThresholds{OversoldExtreme: 25}}
	cfg.ApplyDefaults()

	assert.Equal(t, 25.0, cfg.Rules.OversoldExtreme)
	assert.Equal(t, 70.0, cfg.Rules.OverboughtExtreme)
	assert.Equal(t, 0.50, cfg.Rules.HoldConfidence)

	sig := Evaluate(models.IndicatorSet{RSI: 50, Price: 100, SMAShort: 100, SMALong: 100}, cfg.Rules)
	assert.Equal(t, models.SideHold, sig.Side)
	assert.InDelta(t, 0.50, sig.Confidence, 1e-9)

	sig = Evaluate(models.IndicatorSet{RSI: 27, Price: 100, SMAShort: 100, SMALong: 100}, cfg.Rules)
	assert.Equal(t, models.SideHold, sig.Side)
}
