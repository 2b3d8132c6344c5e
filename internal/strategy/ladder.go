package strategy

import (
	"fmt"

	"trade_engine/internal/models"
)

// rule: ступень лестницы. Порядок в ladder важен: срабатывает первая подходящая.
type rule struct {
	name       string
	side       models.Side
	confidence func(th models.RuleThresholds) float64
	match      func(s models.IndicatorSet, th models.RuleThresholds) bool
}

var ladder = []rule{
	{
		name:       "rsi oversold",
		side:       models.SideBuy,
		confidence: func(th models.RuleThresholds) float64 { return th.ExtremeConfidence },
		match: func(s models.IndicatorSet, th models.RuleThresholds) bool {
			return s.RSI < th.OversoldExtreme
		},
	},
	{
		name:       "rsi overbought",
		side:       models.SideSell,
		confidence: func(th models.RuleThresholds) float64 { return th.ExtremeConfidence },
		match: func(s models.IndicatorSet, th models.RuleThresholds) bool {
			return s.RSI > th.OverboughtExtreme
		},
	},
	{
		name:       "pullback in uptrend",
		side:       models.SideBuy,
		confidence: func(th models.RuleThresholds) float64 { return th.MidConfidence },
		match: func(s models.IndicatorSet, th models.RuleThresholds) bool {
			return s.RSI < th.OversoldMid && uptrend(s)
		},
	},
	{
		name:       "rally in downtrend",
		side:       models.SideSell,
		confidence: func(th models.RuleThresholds) float64 { return th.MidConfidence },
		match: func(s models.IndicatorSet, th models.RuleThresholds) bool {
			return s.RSI > th.OverboughtMid && downtrend(s)
		},
	},
	{
		name:       "uptrend momentum",
		side:       models.SideBuy,
		confidence: func(th models.RuleThresholds) float64 { return th.TrendConfidence },
		match: func(s models.IndicatorSet, th models.RuleThresholds) bool {
			return uptrend(s) && s.RSI > th.Neutral
		},
	},
	{
		name:       "downtrend momentum",
		side:       models.SideSell,
		confidence: func(th models.RuleThresholds) float64 { return th.TrendConfidence },
		match: func(s models.IndicatorSet, th models.RuleThresholds) bool {
			return downtrend(s) && s.RSI < th.Neutral
		},
	},
}

// Evaluate прогоняет лестницу правил. Ничего не сработало: HOLD.
func Evaluate(s models.IndicatorSet, th models.RuleThresholds) models.Signal {
	for _, r := range ladder {
		if r.match(s, th) {
			return models.Signal{
				Side:       r.side,
				Confidence: r.confidence(th),
				Reason:     fmt.Sprintf("%s: rsi=%.2f price=%.5f sma=%.5f/%.5f", r.name, s.RSI, s.Price, s.SMAShort, s.SMALong),
				Source:     models.SourceRules,
			}
		}
	}
	return models.Signal{
		Side:       models.SideHold,
		Confidence: th.HoldConfidence,
		Reason:     fmt.Sprintf("no rule matched: rsi=%.2f", s.RSI),
		Source:     models.SourceRules,
	}
}

func uptrend(s models.IndicatorSet) bool {
	return s.Price > s.SMAShort && s.SMAShort > s.SMALong
}

func downtrend(s models.IndicatorSet) bool {
	return s.Price < s.SMAShort && s.SMAShort < s.SMALong
}
