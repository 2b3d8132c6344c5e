package okx

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"trade_engine/internal/models"
)

// TickerStream держит подписку на канал tickers и последний bid/ask по символам.
type TickerStream struct {
	url     string
	symbols []string
	dialer  *websocket.Dialer
	log     *zap.Logger
	now     func() time.Time

	// PingEvery: keepalive; без него OKX рвёт соединение через 30 секунд тишины.
	PingEvery time.Duration
	Backoff   time.Duration

	mu        sync.RWMutex
	ticks     map[string]models.Tick
	connected bool
}

func NewTickerStream(url string, symbols []string, log *zap.Logger) *TickerStream {
	if url == "" {
		url = DefaultWSURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TickerStream{
		url:       url,
		symbols:   append([]string(nil), symbols...),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:       log,
		now:       time.Now,
		PingEvery: 20 * time.Second,
		Backoff:   time.Second,
		ticks:     map[string]models.Tick{},
	}
}

// Get отдаёт тик, если он не старше maxAge.
func (s *TickerStream) Get(symbol string, maxAge time.Duration) (models.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[symbol]
	if !ok || !t.Valid() || s.now().Sub(t.Time) > maxAge {
		return models.Tick{}, false
	}
	return t, true
}

func (s *TickerStream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *TickerStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Run переподключается, пока жив ctx.
func (s *TickerStream) Run(ctx context.Context) {
	if len(s.symbols) == 0 {
		return
	}
	for {
		err := s.session(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("[OKX] ticker stream dropped, reconnecting", zap.Error(err), zap.Duration("backoff", s.Backoff))

		t := time.NewTimer(s.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *TickerStream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := make([]map[string]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		args = append(args, map[string]string{"channel": "tickers", "instId": sym})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return err
	}
	s.setConnected(true)
	s.log.Info("[OKX] ticker stream subscribed", zap.Strings("symbols", s.symbols))

	var writeMu sync.Mutex
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(s.PingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				// разбудить ReadMessage
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(msg)
	}
}

// handle разбирает кадр tickers; pong и служебные события пропускает.
func (s *TickerStream) handle(msg []byte) {
	if !gjson.ValidBytes(msg) {
		return
	}
	frame := gjson.ParseBytes(msg)
	if frame.Get("arg.channel").String() != "tickers" {
		return
	}
	for _, d := range frame.Get("data").Array() {
		t := models.Tick{
			Symbol: d.Get("instId").String(),
			Bid:    parseFloat(d.Get("bidPx")),
			Ask:    parseFloat(d.Get("askPx")),
			Time:   time.UnixMilli(d.Get("ts").Int()).UTC(),
		}
		if t.Symbol == "" || !t.Valid() {
			continue
		}
		s.mu.Lock()
		s.ticks[t.Symbol] = t
		s.mu.Unlock()
	}
}
