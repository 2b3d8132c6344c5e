package okx

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/helper"
	"trade_engine/internal/models"
)

// sCode -> класс отказа.
var rejectKinds = map[string]models.ErrorKind{
	"51008": models.ErrKindInsufficientMargin,
	"51121": models.ErrKindInvalidVolume,
	"51202": models.ErrKindInvalidVolume,
	"51201": models.ErrKindInvalidVolume,
	"51006": models.ErrKindInvalidPrice,
	"51053": models.ErrKindInvalidStops,
	"51277": models.ErrKindInvalidStops,
	"51278": models.ErrKindInvalidStops,
	"51279": models.ErrKindInvalidStops,
	"51280": models.ErrKindInvalidStops,
	"51027": models.ErrKindMarketClosed,
	"51001": models.ErrKindMarketClosed,
	"51024": models.ErrKindTradingDisabled,
}

func kindOf(sCode string) models.ErrorKind {
	if k, ok := rejectKinds[sCode]; ok {
		return k
	}
	return models.ErrKindUnknown
}

func posSideOf(side models.Side) string {
	if side == models.SideSell {
		return "short"
	}
	return "long"
}

func sideOf(posSide string, pos float64) models.Side {
	switch posSide {
	case "long":
		return models.SideBuy
	case "short":
		return models.SideSell
	}
	if pos < 0 {
		return models.SideSell
	}
	return models.SideBuy
}

// okxTag: тег заявки OKX: до 16 букв/цифр.
func okxTag(tag string) string {
	out := make([]byte, 0, 16)
	for i := 0; i < len(tag) && len(out) < 16; i++ {
		ch := tag[i]
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' {
			out = append(out, ch)
		}
	}
	return string(out)
}

// SubmitOrder открывает рыночную позицию с привязанными TP/SL или, при CloseTicket,
// закрывает сторону позиции целиком.
func (c *Client) SubmitOrder(ctx context.Context, o models.TradeOrder) (models.OrderResult, error) {
	if o.CloseTicket != "" {
		return c.closePosition(ctx, o)
	}

	posSide := posSideOf(o.Side)
	body := map[string]any{
		"instId":  o.Symbol,
		"tdMode":  c.cfg.TdMode,
		"side":    lower(o.Side),
		"posSide": posSide,
		"ordType": "market",
		"sz":      helper.FormatDecimal(o.Volume),
		"clOrdId": o.ClientID,
		"tag":     okxTag(o.Tag),
	}
	if o.StopLoss > 0 || o.TakeProfit > 0 {
		algo := map[string]string{}
		if o.TakeProfit > 0 {
			algo["tpTriggerPx"] = helper.FormatDecimal(o.TakeProfit)
			algo["tpOrdPx"] = "-1"
			algo["tpTriggerPxType"] = "last"
		}
		if o.StopLoss > 0 {
			algo["slTriggerPx"] = helper.FormatDecimal(o.StopLoss)
			algo["slOrdPx"] = "-1"
			algo["slTriggerPxType"] = "last"
		}
		body["attachAlgoOrds"] = []map[string]string{algo}
	}

	b, err := c.raw(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return models.OrderResult{}, err
	}
	res := gjson.ParseBytes(b)
	if rej, ok := rejected(res); ok {
		c.log.Warn("[OKX] order rejected", zap.String("clOrdId", o.ClientID),
			zap.String("kind", string(rej.ErrorKind)), zap.String("msg", rej.Message))
		return rej, nil
	}
	ordID := res.Get("data.0.ordId").String()

	c.setOwner(o.Symbol, posSide, owner{tag: o.Tag, stopLoss: o.StopLoss, takeProfit: o.TakeProfit})

	// тикет: posId стороны; у рыночной заявки позиция появляется сразу
	p, err := c.findPosition(ctx, o.Symbol, posSide)
	if err != nil {
		return models.OrderResult{}, err
	}
	if p.Ticket == "" {
		return models.OrderResult{Status: models.OrderRejected, ErrorKind: models.ErrKindUnknown,
			Message: "order " + ordID + " accepted but no position found"}, nil
	}
	c.log.Info("[OKX] order filled", zap.String("ordId", ordID), zap.String("posId", p.Ticket),
		zap.Float64("avgPx", p.OpenPrice))
	return models.OrderResult{Status: models.OrderFilled, Ticket: p.Ticket, FillPrice: p.OpenPrice}, nil
}

func (c *Client) closePosition(ctx context.Context, o models.TradeOrder) (models.OrderResult, error) {
	// закрывающая заявка встречная, сторона позиции обратна o.Side
	posSide := posSideOf(o.Side.Opposite())
	body := map[string]any{
		"instId":  o.Symbol,
		"mgnMode": c.cfg.TdMode,
		"posSide": posSide,
		"clOrdId": o.ClientID,
		"tag":     okxTag(o.Tag),
	}
	b, err := c.raw(ctx, http.MethodPost, "/api/v5/trade/close-position", nil, body, true)
	if err != nil {
		return models.OrderResult{}, err
	}
	if rej, ok := rejected(gjson.ParseBytes(b)); ok {
		return rej, nil
	}
	return models.OrderResult{Status: models.OrderFilled, Ticket: o.CloseTicket, FillPrice: o.Price}, nil
}

// rejected разбирает code/sCode ответа торгового запроса.
func rejected(res gjson.Result) (models.OrderResult, bool) {
	code := res.Get("code").String()
	sCode := res.Get("data.0.sCode").String()
	if code == "0" && (sCode == "" || sCode == "0") {
		return models.OrderResult{}, false
	}
	if sCode == "" || sCode == "0" {
		sCode = code
	}
	msg := res.Get("data.0.sMsg").String()
	if msg == "" {
		msg = res.Get("msg").String()
	}
	return models.OrderResult{
		Status:    models.OrderRejected,
		ErrorKind: kindOf(sCode),
		Message:   sCode + ": " + msg,
	}, true
}

func (c *Client) findPosition(ctx context.Context, symbol, posSide string) (models.Position, error) {
	positions, err := c.GetOpenPositions(ctx, broker.PositionFilter{Symbol: symbol})
	if err != nil {
		return models.Position{}, err
	}
	want := sideOf(posSide, 0)
	for _, p := range positions {
		if p.Side == want {
			return p, nil
		}
	}
	return models.Position{}, nil
}

// GetOpenPositions: открытые позиции SWAP. Тег берётся из заявок этого клиента;
// чужие для клиента позиции считаются принадлежащими тому, кто спрашивает по символу:
// на один инструмент приходится один бот.
func (c *Client) GetOpenPositions(ctx context.Context, filter broker.PositionFilter) ([]models.Position, error) {
	q := url.Values{"instType": {"SWAP"}}
	if filter.Symbol != "" {
		q.Set("instId", filter.Symbol)
	}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", q, nil, true)
	if err != nil {
		return nil, err
	}

	var out []models.Position
	for _, d := range data.Array() {
		pos := parseFloat(d.Get("pos"))
		if pos == 0 {
			continue
		}
		instID := d.Get("instId").String()
		posSide := d.Get("posSide").String()

		p := models.Position{
			Ticket:     d.Get("posId").String(),
			Symbol:     instID,
			Side:       sideOf(posSide, pos),
			Volume:     math.Abs(pos),
			OpenPrice:  parseFloat(d.Get("avgPx")),
			Profit:     parseFloat(d.Get("upl")),
			StopLoss:   parseFloat(d.Get("closeOrderAlgo.0.slTriggerPx")),
			TakeProfit: parseFloat(d.Get("closeOrderAlgo.0.tpTriggerPx")),
			OpenedAt:   time.UnixMilli(d.Get("cTime").Int()).UTC(),
		}
		if o, ok := c.ownerOf(instID, posSide); ok {
			p.Tag = o.tag
		} else if filter.Tag != "" && filter.Symbol == instID {
			p.Tag = filter.Tag
		}
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetTradeHistory: закрытые позиции из positions-history.
func (c *Client) GetTradeHistory(ctx context.Context, hq broker.HistoryQuery) ([]models.Deal, error) {
	q := url.Values{"instType": {"SWAP"}}
	if hq.Symbol != "" {
		q.Set("instId", hq.Symbol)
	}
	if !hq.From.IsZero() {
		q.Set("before", strconv.FormatInt(hq.From.UnixMilli(), 10))
	}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/account/positions-history", q, nil, true)
	if err != nil {
		return nil, err
	}

	var out []models.Deal
	for _, d := range data.Array() {
		instID := d.Get("instId").String()
		direction := d.Get("direction").String()
		posID := d.Get("posId").String()
		closePx := parseFloat(d.Get("closeAvgPx"))
		closedAt := time.UnixMilli(d.Get("uTime").Int()).UTC()

		deal := models.Deal{
			Ticket:         posID + ":" + d.Get("uTime").String(),
			PositionTicket: posID,
			Symbol:         instID,
			Side:           sideOf(direction, 0).Opposite(),
			Volume:         parseFloat(d.Get("closeTotalPos")),
			Price:          closePx,
			Profit:         parseFloat(d.Get("realizedPnl")),
			Time:           closedAt,
		}
		o, _ := c.ownerOf(instID, direction)
		deal.Reason = closeReason(d.Get("type").String(), sideOf(direction, 0), closePx, o)
		if hq.Match(deal) {
			out = append(out, deal)
		}
	}
	return out, nil
}

// closeReason: type 3/4: ликвидация, 5: ADL. Для обычного закрытия сравниваем
// цену выхода с уровнями, с которыми открывали.
func closeReason(typ string, side models.Side, px float64, o owner) models.CloseReason {
	switch typ {
	case "3", "4", "5":
		return models.CloseReasonLiquidation
	}
	if px <= 0 {
		return models.CloseReasonUnknown
	}
	switch side {
	case models.SideBuy:
		if o.takeProfit > 0 && px >= o.takeProfit {
			return models.CloseReasonTakeProfit
		}
		if o.stopLoss > 0 && px <= o.stopLoss {
			return models.CloseReasonStopLoss
		}
	case models.SideSell:
		if o.takeProfit > 0 && px <= o.takeProfit {
			return models.CloseReasonTakeProfit
		}
		if o.stopLoss > 0 && px >= o.stopLoss {
			return models.CloseReasonStopLoss
		}
	}
	if o.tag == "" {
		return models.CloseReasonUnknown
	}
	return models.CloseReasonManual
}

func lower(s models.Side) string {
	if s == models.SideSell {
		return "sell"
	}
	return "buy"
}
