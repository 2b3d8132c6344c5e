// Package okx: Gateway поверх REST v5 OKX (USDT-SWAP, режим long/short).
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade_engine/internal/broker"
)

const (
	DefaultBaseURL = "https://www.okx.com"
	DefaultWSURL   = "wss://ws.okx.com:8443/ws/v5/public"
)

type Config struct {
	BaseURL    string        `yaml:"base_url"`
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	Passphrase string        `yaml:"passphrase"`
	Simulated  bool          `yaml:"simulated"` // демо-счёт, заголовок x-simulated-trading
	TdMode     string        `yaml:"td_mode"`   // cross / isolated
	Timeout    time.Duration `yaml:"timeout"`
	RPS        float64       `yaml:"rps"`
	Burst      int           `yaml:"burst"`
	MetaTTL    time.Duration `yaml:"meta_ttl"`
	TickMaxAge time.Duration `yaml:"tick_max_age"`
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if c.TdMode == "" {
		c.TdMode = "cross"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RPS <= 0 {
		c.RPS = 10
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.MetaTTL <= 0 {
		c.MetaTTL = 10 * time.Minute
	}
	if c.TickMaxAge <= 0 {
		c.TickMaxAge = 5 * time.Second
	}
}

type cachedMeta struct {
	raw instrument
	at  time.Time
}

// owner: кто и с какими уровнями открыл сторону позиции. Позиции OKX тегов не несут.
type owner struct {
	tag        string
	stopLoss   float64
	takeProfit float64
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	now     func() time.Time

	stream *TickerStream

	mu     sync.Mutex
	metas  map[string]cachedMeta
	owners map[string]owner // instId:posSide
}

var _ broker.Gateway = (*Client)(nil)

func New(cfg Config, log *zap.Logger) *Client {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:     log,
		now:     time.Now,
		metas:   map[string]cachedMeta{},
		owners:  map[string]owner{},
	}
}

// WithStream подключает кэш тиков из websocket; GetTick предпочитает его REST.
func (c *Client) WithStream(s *TickerStream) *Client {
	c.stream = s
	return c
}

// apiError: ответ OKX с code != "0".
type apiError struct {
	Code string
	Msg  string
}

func (e *apiError) Error() string { return fmt.Sprintf("okx error %s: %s", e.Code, e.Msg) }

// sign: base64(HMAC-SHA256(ts + METHOD + path?query + body)).
func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// raw выполняет запрос и отдаёт тело как есть. Сетевые сбои и 5xx: ErrConnectionLost.
func (c *Client) raw(ctx context.Context, method, path string, query url.Values, body any, signed bool) ([]byte, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return nil, errors.Wrapf(err, "okx %s: marshal", path)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "okx %s: rate limit", path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "okx %s: build request", path)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if signed {
		ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(broker.ErrConnectionLost, "okx %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(broker.ErrConnectionLost, "okx %s: read body: %v", path, err)
	}
	if resp.StatusCode >= 500 {
		return nil, errors.Wrapf(broker.ErrConnectionLost, "okx %s: http %d", path, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 && !gjson.ValidBytes(b) {
		return nil, errors.Errorf("okx %s: http %d: %s", path, resp.StatusCode, string(b))
	}
	return b, nil
}

// do: raw + проверка code. Возвращает массив data.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool) (gjson.Result, error) {
	b, err := c.raw(ctx, method, path, query, body, signed)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(b)
	if code := res.Get("code").String(); code != "0" {
		return gjson.Result{}, errors.WithMessage(&apiError{Code: code, Msg: res.Get("msg").String()}, "okx "+path)
	}
	return res.Get("data"), nil
}

// Ping: публичное время сервера.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/v5/public/time", nil, nil, false)
	return err
}

func ownerKey(instID, posSide string) string { return instID + ":" + posSide }

func (c *Client) setOwner(instID, posSide string, o owner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[ownerKey(instID, posSide)] = o
}

func (c *Client) ownerOf(instID, posSide string) (owner, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.owners[ownerKey(instID, posSide)]
	return o, ok
}
