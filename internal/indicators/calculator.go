// Package indicators считает RSI, SMA и полосы Боллинджера по ряду свечей.
// Функции чистые: при нехватке истории отдают нейтральные значения, а не ошибки.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"trade_engine/internal/models"
)

const neutralRSI = 50.0

// Calculate собирает IndicatorSet для последней свечи ряда.
func Calculate(candles []models.Candle, p models.IndicatorParams) models.IndicatorSet {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return FromCloses(closes, p)
}

// FromCloses: то же, что Calculate, но по готовому ряду цен закрытия.
func FromCloses(closes []float64, p models.IndicatorParams) models.IndicatorSet {
	set := models.IndicatorSet{RSI: neutralRSI}
	if len(closes) == 0 {
		return set
	}

	set.Price = closes[len(closes)-1]
	set.RSI = RSI(closes, p.RSIPeriod)
	set.SMAShort = SMA(closes, p.SMAShort)
	set.SMALong = SMA(closes, p.SMALong)
	set.BBUpper, set.BBMiddle, set.BBLower = Bollinger(closes, p.BBPeriod, p.BBStdDev)
	return set
}

// RSI по Уайлдеру. Меньше period+1 цен: 50. Нет ни одного снижения: 100.
func RSI(closes []float64, period int) float64 {
	// talib.Rsi паникует при len <= period и возвращает нули при period < 2
	if period < 2 || len(closes) <= period {
		return neutralRSI
	}
	if !hasLoss(closes) {
		return 100
	}

	series := talib.Rsi(closes, period)
	return lastValid(series, neutralRSI)
}

// SMA за n свечей; если свечей меньше: среднее по всем доступным.
func SMA(closes []float64, n int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if n < 2 {
		return closes[len(closes)-1]
	}
	if len(closes) < n {
		return mean(closes)
	}

	series := talib.Sma(closes, n)
	return lastValid(series, mean(closes[len(closes)-n:]))
}

// Bollinger: SMA ± k стандартных отклонений (генеральная совокупность).
// Окно урезается до длины истории; одна цена схлопывает все полосы в неё.
func Bollinger(closes []float64, period int, k float64) (upper, middle, lower float64) {
	n := len(closes)
	if n == 0 {
		return 0, 0, 0
	}
	if period > n {
		period = n
	}
	last := closes[n-1]
	if period < 2 {
		return last, last, last
	}

	u, m, l := talib.BBands(closes, period, k, k, talib.SMA)
	middle = lastValid(m, last)
	return lastValid(u, middle), middle, lastValid(l, middle)
}

func hasLoss(closes []float64) bool {
	for i := 1; i < len(closes); i++ {
		if closes[i] < closes[i-1] {
			return true
		}
	}
	return false
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func lastValid(series []float64, def float64) float64 {
	if len(series) == 0 {
		return def
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
