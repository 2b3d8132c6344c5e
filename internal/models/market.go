package models

import "time"

// Candle: OHLCV-свеча, OpenTime по возрастанию.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Tick: текущий bid/ask по инструменту.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// Valid: есть обе стороны и спред не перевёрнут.
func (t Tick) Valid() bool { return t.Bid > 0 && t.Ask > 0 && t.Ask >= t.Bid }

// MarketSnapshot: срез рынка на один цикл бота. После получения не меняется.
type MarketSnapshot struct {
	Symbol    string
	Timeframe string
	Candles   []Candle
	Tick      Tick
}

// IndicatorSet: индикаторы, пересчитываются каждый цикл.
type IndicatorSet struct {
	Price    float64
	RSI      float64
	SMAShort float64
	SMALong  float64
	BBUpper  float64
	BBMiddle float64
	BBLower  float64
}

// Features: вектор признаков для классификатора.
func (s IndicatorSet) Features() []float64 {
	return []float64{s.Price, s.RSI, s.SMAShort, s.SMALong, s.BBUpper, s.BBMiddle, s.BBLower}
}
