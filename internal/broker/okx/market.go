package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"trade_engine/internal/broker"
	"trade_engine/internal/helper"
	"trade_engine/internal/models"
)

// bar переводит таймфрейм в формат OKX: часы и дни заглавными.
func bar(tf string) (string, error) {
	switch s := helper.NormTF(tf); s {
	case "1m", "3m", "5m", "15m", "30m":
		return s, nil
	case "1h", "2h", "4h", "6h", "12h", "1d", "1w":
		return strings.ToUpper(s), nil
	}
	return "", fmt.Errorf("unsupported timeframe for OKX bar: %q", tf)
}

func parseFloat(r gjson.Result) float64 {
	v, _ := strconv.ParseFloat(r.String(), 64)
	return v
}

// GetSnapshot: последние count свечей по возрастанию времени. OKX отдаёт newest-first.
func (c *Client) GetSnapshot(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	b, err := bar(timeframe)
	if err != nil {
		return nil, err
	}
	if count <= 0 || count > 300 {
		count = 300
	}
	q := url.Values{"instId": {symbol}, "bar": {b}, "limit": {strconv.Itoa(count)}}

	data, err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, false)
	if err != nil {
		return nil, err
	}

	rows := data.Array()
	out := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
		row := rows[i].Array()
		if len(row) < 5 {
			continue
		}
		cl := parseFloat(row[4])
		if cl <= 0 {
			continue
		}
		candle := models.Candle{
			OpenTime: time.UnixMilli(row[0].Int()).UTC(),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    cl,
		}
		if len(row) >= 6 {
			candle.Volume = parseFloat(row[5])
		}
		out = append(out, candle)
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(broker.ErrDataUnavailable, "okx candles %s %s", symbol, b)
	}
	return out, nil
}

// GetTick: bid/ask из websocket-кэша, если он свежий, иначе REST.
func (c *Client) GetTick(ctx context.Context, symbol string) (models.Tick, error) {
	if c.stream != nil {
		if t, ok := c.stream.Get(symbol, c.cfg.TickMaxAge); ok {
			return t, nil
		}
	}

	data, err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker", url.Values{"instId": {symbol}}, nil, false)
	if err != nil {
		return models.Tick{}, err
	}
	d := data.Get("0")
	t := models.Tick{
		Symbol: symbol,
		Bid:    parseFloat(d.Get("bidPx")),
		Ask:    parseFloat(d.Get("askPx")),
		Time:   time.UnixMilli(d.Get("ts").Int()).UTC(),
	}
	if !t.Valid() {
		return models.Tick{}, errors.Wrapf(broker.ErrDataUnavailable, "okx ticker %s: bid=%.8f ask=%.8f", symbol, t.Bid, t.Ask)
	}
	return t, nil
}

type instrument struct {
	InstID   string
	TickSz   float64
	LotSz    float64
	MinSz    float64
	CtVal    float64
	MaxMktSz float64
	State    string
}

// GetInstrumentMeta читает параметры контракта. Кэшируется на MetaTTL.
func (c *Client) GetInstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error) {
	c.mu.Lock()
	cm, ok := c.metas[symbol]
	c.mu.Unlock()
	if ok && c.now().Sub(cm.at) < c.cfg.MetaTTL {
		return toMeta(cm.raw), nil
	}

	q := url.Values{"instType": {"SWAP"}, "instId": {symbol}}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments", q, nil, false)
	if err != nil {
		return models.InstrumentMeta{}, err
	}
	d := data.Get("0")
	if !d.Exists() {
		return models.InstrumentMeta{}, errors.Errorf("okx: instrument %s not found", symbol)
	}

	inst := instrument{
		InstID:   d.Get("instId").String(),
		TickSz:   parseFloat(d.Get("tickSz")),
		LotSz:    parseFloat(d.Get("lotSz")),
		MinSz:    parseFloat(d.Get("minSz")),
		CtVal:    parseFloat(d.Get("ctVal")),
		MaxMktSz: parseFloat(d.Get("maxMktSz")),
		State:    d.Get("state").String(),
	}
	if mult := parseFloat(d.Get("ctMult")); mult > 0 {
		inst.CtVal *= mult
	}
	if inst.State != "" && inst.State != "live" {
		return models.InstrumentMeta{}, errors.Wrapf(broker.ErrMarketClosed, "okx: %s state=%s", symbol, inst.State)
	}
	if inst.TickSz <= 0 || inst.LotSz <= 0 || inst.CtVal <= 0 {
		return models.InstrumentMeta{}, errors.Errorf("okx: %s bad contract spec tick=%v lot=%v ctVal=%v",
			symbol, inst.TickSz, inst.LotSz, inst.CtVal)
	}

	c.mu.Lock()
	c.metas[symbol] = cachedMeta{raw: inst, at: c.now()}
	c.mu.Unlock()
	return toMeta(inst), nil
}

// toMeta: пункт = шаг цены, стоимость пункта на 1 контракт = tickSz × ctVal (линейный USDT-своп).
func toMeta(inst instrument) models.InstrumentMeta {
	return models.InstrumentMeta{
		Symbol:       inst.InstID,
		Digits:       helper.DigitsOf(inst.TickSz),
		Point:        inst.TickSz,
		TickSize:     inst.TickSz,
		TickValue:    inst.TickSz * inst.CtVal,
		ContractSize: inst.CtVal,
		MinVolume:    inst.MinSz,
		MaxVolume:    inst.MaxMktSz,
		VolumeStep:   inst.LotSz,
	}
}
