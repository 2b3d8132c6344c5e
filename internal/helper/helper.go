package helper

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NormTF приводит таймфрейм к нижнему регистру без префикса "candle".
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1h"
	case "240m", "4h":
		return "4h"
	case "1440m", "1d":
		return "1d"
	default:
		return s
	}
}

// RoundDownToTick округляет вниз до кратного tick. Считаем в decimal, чтобы
// 0.1+0.2 не превращалось в 0.30000000000000004 на границе шага.
func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(px).Div(t).Floor().Mul(t).Float64()
	return f
}

// RoundUpToTick округляет вверх до кратного tick.
func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(px).Div(t).Ceil().Mul(t).Float64()
	return f
}

// RoundToDigits: банковского округления тут нет, обычное half-up.
func RoundToDigits(px float64, digits int) float64 {
	if digits < 0 {
		return px
	}
	f, _ := decimal.NewFromFloat(px).Round(int32(digits)).Float64()
	return f
}

// DigitsOf: число знаков после запятой у шага (0.001 -> 3).
func DigitsOf(step float64) int {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// FormatDecimal печатает число без экспоненты и хвостовых нулей.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}
