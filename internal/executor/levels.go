package executor

import (
	"fmt"
	"math"

	"trade_engine/internal/helper"
	"trade_engine/internal/models"
)

// Levels: цена входа и уровни SL/TP для заявки.
type Levels struct {
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	SLPoints   float64 // дистанция в пунктах, 0: уровня нет
	TPPoints   float64
}

// EntryPrice: ask для BUY, bid для SELL.
func EntryPrice(side models.Side, tick models.Tick) float64 {
	if side == models.SideBuy {
		return tick.Ask
	}
	return tick.Bid
}

// MoneyDistance: ценовая дистанция, на которой позиция объёмом volume
// теряет или зарабатывает target: target × point / (tick_value × volume).
func MoneyDistance(target, point, tickValue, volume float64) float64 {
	if target <= 0 || point <= 0 || tickValue <= 0 || volume <= 0 {
		return 0
	}
	return target * point / (tickValue * volume)
}

// MoneyToPoints: та же дистанция в пунктах.
func MoneyToPoints(target, point, tickValue, volume float64) float64 {
	if point <= 0 {
		return 0
	}
	return MoneyDistance(target, point, tickValue, volume) / point
}

// PointsValue: сколько стоит ход в points пунктов; обратная к MoneyToPoints.
func PointsValue(points, tickValue, volume float64) float64 {
	return points * tickValue * volume
}

// NormalizeVolume зажимает объём в [min, max] и округляет вниз до шага.
func NormalizeVolume(volume float64, meta models.InstrumentMeta) (float64, error) {
	if volume <= 0 || math.IsNaN(volume) {
		return 0, fmt.Errorf("volume %.8f <= 0", volume)
	}
	v := volume
	if meta.MaxVolume > 0 && v > meta.MaxVolume {
		v = meta.MaxVolume
	}
	v = helper.RoundDownToTick(v, meta.VolumeStep)
	if meta.MinVolume > 0 && v < meta.MinVolume {
		return 0, fmt.Errorf("volume %.8f below min %.8f (step %.8f)", volume, meta.MinVolume, meta.VolumeStep)
	}
	if v <= 0 {
		return 0, fmt.Errorf("volume %.8f rounds to zero with step %.8f", volume, meta.VolumeStep)
	}
	return v, nil
}

// ComputeLevels считает SL/TP в одной из двух систем: проценты от цены или пункты.
// Дистанция меньше MinStopPoints расширяется до минимума, округление идёт
// в сторону от цены входа, чтобы стоп не оказался ближе минимума.
func ComputeLevels(side models.Side, entry, volume float64, meta models.InstrumentMeta, spec models.StopSpec) (Levels, error) {
	if !side.Directional() {
		return Levels{}, fmt.Errorf("side %q has no levels", side)
	}
	if entry <= 0 {
		return Levels{}, fmt.Errorf("entry %.8f <= 0", entry)
	}

	point := meta.Point
	if point <= 0 {
		point = meta.TickSize
	}
	if point <= 0 {
		return Levels{}, fmt.Errorf("instrument %s has no point size", meta.Symbol)
	}

	var slDist, tpDist float64
	switch spec.Mode {
	case models.StopModePoints:
		slDist = spec.StopLossPoints * point
		if spec.StopLossMoney > 0 {
			slDist = MoneyDistance(spec.StopLossMoney, point, meta.TickValue, volume)
		}
		tpDist = spec.TakeProfitPoints * point
		if spec.TakeProfitMoney > 0 {
			tpDist = MoneyDistance(spec.TakeProfitMoney, point, meta.TickValue, volume)
		}
		if (spec.StopLossMoney > 0 && slDist == 0) || (spec.TakeProfitMoney > 0 && tpDist == 0) {
			return Levels{}, fmt.Errorf("money stops need tick value and volume (tick_value=%.8f)", meta.TickValue)
		}
	case models.StopModePercent, "":
		slDist = entry * spec.StopLossPct
		tpDist = entry * spec.TakeProfitPct
	default:
		return Levels{}, fmt.Errorf("unknown stop mode %q", spec.Mode)
	}

	minDist := meta.MinStopPoints * point
	if slDist > 0 && slDist < minDist {
		slDist = minDist
	}
	if tpDist > 0 && tpDist < minDist {
		tpDist = minDist
	}

	step := meta.TickSize
	if step <= 0 {
		step = point
	}

	lv := Levels{Entry: entry}
	if side == models.SideBuy {
		if slDist > 0 {
			lv.StopLoss = helper.RoundDownToTick(entry-slDist, step)
		}
		if tpDist > 0 {
			lv.TakeProfit = helper.RoundUpToTick(entry+tpDist, step)
		}
	} else {
		if slDist > 0 {
			lv.StopLoss = helper.RoundUpToTick(entry+slDist, step)
		}
		if tpDist > 0 {
			lv.TakeProfit = helper.RoundDownToTick(entry-tpDist, step)
		}
	}
	if meta.Digits > 0 {
		lv.StopLoss = helper.RoundToDigits(lv.StopLoss, meta.Digits)
		lv.TakeProfit = helper.RoundToDigits(lv.TakeProfit, meta.Digits)
	}

	if slDist > 0 && lv.StopLoss <= 0 {
		return Levels{}, fmt.Errorf("stop loss %.8f <= 0 for entry %.8f", lv.StopLoss, entry)
	}
	if tpDist > 0 && lv.TakeProfit <= 0 {
		return Levels{}, fmt.Errorf("take profit %.8f <= 0 for entry %.8f", lv.TakeProfit, entry)
	}
	if lv.StopLoss > 0 {
		lv.SLPoints = math.Abs(entry-lv.StopLoss) / point
	}
	if lv.TakeProfit > 0 {
		lv.TPPoints = math.Abs(lv.TakeProfit-entry) / point
	}
	return lv, nil
}
