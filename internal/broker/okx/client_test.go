package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
)

const instID = "ETH-USDT-SWAP"

type venue struct {
	mu        sync.Mutex
	orders    []string // тела POST /trade/order
	closes    []string
	positions string
	orderResp string
	badSign   bool
}

func (v *venue) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
	checkSign := func(r *http.Request, body string) {
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		h := hmac.New(sha256.New, []byte("secret"))
		h.Write([]byte(ts + r.Method + r.URL.RequestURI() + body))
		if r.Header.Get("OK-ACCESS-SIGN") != base64.StdEncoding.EncodeToString(h.Sum(nil)) ||
			r.Header.Get("OK-ACCESS-KEY") != "key" || r.Header.Get("OK-ACCESS-PASSPHRASE") != "pass" {
			v.mu.Lock()
			v.badSign = true
			v.mu.Unlock()
		}
	}

	mux.HandleFunc("/api/v5/public/time", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"code":"0","msg":"","data":[{"ts":"1700000000000"}]}`)
	})
	mux.HandleFunc("/api/v5/market/candles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1H", r.URL.Query().Get("bar"))
		write(w, `{"code":"0","msg":"","data":[
			["1700007200000","12","13","11","12.5","100","0","0","1"],
			["1700003600000","11","12","10","11.5","90","0","0","1"],
			["1700000000000","10","11","9","10.5","80","0","0","1"]]}`)
	})
	mux.HandleFunc("/api/v5/market/ticker", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"code":"0","msg":"","data":[{"instId":"ETH-USDT-SWAP","bidPx":"2000.1","askPx":"2000.3","ts":"1700000000000"}]}`)
	})
	mux.HandleFunc("/api/v5/public/instruments", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"code":"0","msg":"","data":[{"instId":"ETH-USDT-SWAP","tickSz":"0.01","lotSz":"0.1","minSz":"0.1",
			"ctVal":"0.1","ctMult":"1","maxMktSz":"5000","state":"live"}]}`)
	})
	mux.HandleFunc("/api/v5/trade/order", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		checkSign(r, string(b))
		v.mu.Lock()
		v.orders = append(v.orders, string(b))
		resp := v.orderResp
		v.mu.Unlock()
		write(w, resp)
	})
	mux.HandleFunc("/api/v5/trade/close-position", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		checkSign(r, string(b))
		v.mu.Lock()
		v.closes = append(v.closes, string(b))
		v.mu.Unlock()
		write(w, `{"code":"0","msg":"","data":[{"instId":"ETH-USDT-SWAP","posSide":"short"}]}`)
	})
	mux.HandleFunc("/api/v5/account/positions", func(w http.ResponseWriter, r *http.Request) {
		checkSign(r, "")
		v.mu.Lock()
		body := v.positions
		v.mu.Unlock()
		write(w, body)
	})
	mux.HandleFunc("/api/v5/account/positions-history", func(w http.ResponseWriter, r *http.Request) {
		checkSign(r, "")
		write(w, `{"code":"0","msg":"","data":[
			{"instId":"ETH-USDT-SWAP","posId":"P1","direction":"long","closeTotalPos":"1","closeAvgPx":"2040",
			 "realizedPnl":"4.2","type":"2","uTime":"1700000100000"},
			{"instId":"ETH-USDT-SWAP","posId":"P2","direction":"short","closeTotalPos":"1","closeAvgPx":"2100",
			 "realizedPnl":"-9","type":"3","uTime":"1700000200000"}]}`)
	})
	return mux
}

const openLong = `{"code":"0","msg":"","data":[{"instId":"ETH-USDT-SWAP","posId":"P1","posSide":"long","pos":"1",
	"avgPx":"2000.3","upl":"1.5","cTime":"1700000000000","closeOrderAlgo":[{"slTriggerPx":"1980","tpTriggerPx":"2040"}]}]}`

func newVenue(t *testing.T) (*Client, *venue) {
	t.Helper()
	v := &venue{
		positions: `{"code":"0","msg":"","data":[]}`,
		orderResp: `{"code":"0","msg":"","data":[{"ordId":"O1","clOrdId":"c1","sCode":"0","sMsg":""}]}`,
	}
	srv := httptest.NewServer(v.handler(t))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Passphrase: "pass", RPS: 1000, Burst: 100}, nil)
	return c, v
}

func TestGetSnapshotReversesToAscending(t *testing.T) {
	c, _ := newVenue(t)

	candles, err := c.GetSnapshot(context.Background(), instID, "1h", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 10.5, candles[0].Close)
	assert.Equal(t, 12.5, candles[2].Close)
	assert.True(t, candles[0].OpenTime.Before(candles[2].OpenTime))
	assert.Equal(t, 80.0, candles[0].Volume)
}

func TestGetSnapshotUnsupportedTimeframe(t *testing.T) {
	c, _ := newVenue(t)
	_, err := c.GetSnapshot(context.Background(), instID, "7m", 3)
	assert.Error(t, err)
}

func TestGetInstrumentMeta(t *testing.T) {
	c, _ := newVenue(t)

	meta, err := c.GetInstrumentMeta(context.Background(), instID)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Digits)
	assert.Equal(t, 0.01, meta.Point)
	assert.InDelta(t, 0.001, meta.TickValue, 1e-12)
	assert.Equal(t, 0.1, meta.ContractSize)
	assert.Equal(t, 0.1, meta.MinVolume)
	assert.Equal(t, 0.1, meta.VolumeStep)
	assert.Equal(t, 5000.0, meta.MaxVolume)
}

func TestGetTick(t *testing.T) {
	c, _ := newVenue(t)

	tick, err := c.GetTick(context.Background(), instID)
	require.NoError(t, err)
	assert.Equal(t, 2000.1, tick.Bid)
	assert.Equal(t, 2000.3, tick.Ask)
}

func TestGetTickPrefersFreshStream(t *testing.T) {
	c, _ := newVenue(t)
	now := time.Now()
	s := NewTickerStream("ws://unused", []string{instID}, nil)
	s.now = func() time.Time { return now }
	s.handle([]byte(`{"arg":{"channel":"tickers","instId":"ETH-USDT-SWAP"},"data":[{"instId":"ETH-USDT-SWAP","bidPx":"1999","askPx":"1999.5","ts":"` +
		strconv.FormatInt(now.Add(-time.Second).UnixMilli(), 10) + `"}]}`))
	c.WithStream(s)

	tick, err := c.GetTick(context.Background(), instID)
	require.NoError(t, err)
	assert.Equal(t, 1999.0, tick.Bid)

	// протухший кэш: идём в REST
	s.now = func() time.Time { return now.Add(time.Minute) }
	tick, err = c.GetTick(context.Background(), instID)
	require.NoError(t, err)
	assert.Equal(t, 2000.1, tick.Bid)
}

func TestSubmitOrderAttachesStopsAndReturnsPosition(t *testing.T) {
	c, v := newVenue(t)
	v.positions = openLong

	res, err := c.SubmitOrder(context.Background(), models.TradeOrder{
		Symbol: instID, Side: models.SideBuy, Volume: 1, Price: 2000.3,
		StopLoss: 1980, TakeProfit: 2040, Tag: "b0f1e2d3c", ClientID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, res.Status)
	assert.Equal(t, "P1", res.Ticket)
	assert.Equal(t, 2000.3, res.FillPrice)

	require.Len(t, v.orders, 1)
	body := gjson.Parse(v.orders[0])
	assert.Equal(t, "buy", body.Get("side").String())
	assert.Equal(t, "long", body.Get("posSide").String())
	assert.Equal(t, "market", body.Get("ordType").String())
	assert.Equal(t, "1", body.Get("sz").String())
	assert.Equal(t, "1980", body.Get("attachAlgoOrds.0.slTriggerPx").String())
	assert.Equal(t, "2040", body.Get("attachAlgoOrds.0.tpTriggerPx").String())
	assert.Equal(t, "b0f1e2d3c", body.Get("tag").String())
	assert.False(t, v.badSign, "request signature")

	positions, err := c.GetOpenPositions(context.Background(), broker.PositionFilter{Symbol: instID, Tag: "b0f1e2d3c"})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, models.SideBuy, positions[0].Side)
	assert.Equal(t, 1980.0, positions[0].StopLoss)
	assert.Equal(t, 1.5, positions[0].Profit)

	other, err := c.GetOpenPositions(context.Background(), broker.PositionFilter{Symbol: instID, Tag: "someone"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSubmitOrderRejections(t *testing.T) {
	tests := []struct {
		sCode string
		want  models.ErrorKind
	}{
		{"51008", models.ErrKindInsufficientMargin},
		{"51121", models.ErrKindInvalidVolume},
		{"51006", models.ErrKindInvalidPrice},
		{"51277", models.ErrKindInvalidStops},
		{"51027", models.ErrKindMarketClosed},
		{"51024", models.ErrKindTradingDisabled},
		{"59999", models.ErrKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.sCode, func(t *testing.T) {
			c, v := newVenue(t)
			v.orderResp = `{"code":"1","msg":"All operations failed","data":[{"ordId":"","sCode":"` + tt.sCode + `","sMsg":"nope"}]}`

			res, err := c.SubmitOrder(context.Background(), models.TradeOrder{Symbol: instID, Side: models.SideSell, Volume: 1})
			require.NoError(t, err)
			assert.Equal(t, models.OrderRejected, res.Status)
			assert.Equal(t, tt.want, res.ErrorKind)
			assert.Contains(t, res.Message, tt.sCode)
		})
	}
}

func TestClosePositionBySide(t *testing.T) {
	c, v := newVenue(t)

	res, err := c.SubmitOrder(context.Background(), models.TradeOrder{
		Symbol: instID, Side: models.SideBuy, Volume: 1, CloseTicket: "P9", ClientID: "c2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, res.Status)
	assert.Equal(t, "P9", res.Ticket)
	require.Len(t, v.closes, 1)
	assert.Equal(t, "short", gjson.Get(v.closes[0], "posSide").String())
}

func TestGetTradeHistoryReasons(t *testing.T) {
	c, _ := newVenue(t)
	c.setOwner(instID, "long", owner{tag: "b1", stopLoss: 1980, takeProfit: 2040})

	deals, err := c.GetTradeHistory(context.Background(), broker.HistoryQuery{Symbol: instID})
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, "P1", deals[0].PositionTicket)
	assert.Equal(t, models.CloseReasonTakeProfit, deals[0].Reason)
	assert.Equal(t, 4.2, deals[0].Profit)
	assert.Equal(t, models.SideSell, deals[0].Side)
	assert.Equal(t, models.CloseReasonLiquidation, deals[1].Reason)

	only, err := c.GetTradeHistory(context.Background(), broker.HistoryQuery{Symbol: instID, Tickets: []string{"P2"}})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, -9.0, only[0].Profit)
}

func TestConnectionLost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(Config{BaseURL: url, Timeout: time.Second}, nil)

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, broker.ErrConnectionLost)

	_, err = c.GetOpenPositions(context.Background(), broker.PositionFilter{})
	assert.True(t, broker.IsConnectionLost(err))
}

func TestServerErrorIsConnectionLost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL}, nil)

	assert.ErrorIs(t, c.Ping(context.Background()), broker.ErrConnectionLost)
}

func TestAPIErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":"50011","msg":"Too Many Requests","data":[]}`)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL}, nil)

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "50011")
	assert.False(t, broker.IsConnectionLost(err))
}

func TestOkxTag(t *testing.T) {
	assert.Equal(t, "b0f1e2d3c", okxTag("b0f1e2d3c"))
	assert.Equal(t, "goldbot1", okxTag("gold-bot_1"))
	assert.Len(t, okxTag(strings.Repeat("a", 40)), 16)
}
