package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"trade_engine/internal/events"
)

// Sender: то, что нужно от telegram-клиента. *tgbot.BotAPI подходит.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram: синк событий, шлёт оператору только алерты. Отправка в своей
// горутине через очередь: бот никогда не ждёт Telegram.
type Telegram struct {
	bot    Sender
	chatID int64
	log    *zap.Logger

	queue chan string
	mu    sync.RWMutex
	done  chan struct{}
	stop  bool
}

func NewTelegramAPI(token string) (*tgbot.BotAPI, error) {
	return tgbot.NewBotAPI(token)
}

func NewTelegram(bot Sender, chatID int64, log *zap.Logger) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		log:    log,
		queue:  make(chan string, 64),
		done:   make(chan struct{}),
	}
}

// Run отправляет сообщения из очереди до Close.
func (t *Telegram) Run() {
	defer close(t.done)
	for msg := range t.queue {
		if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
			t.log.Warn("[TG] send failed", zap.Error(err))
		}
	}
}

func (t *Telegram) Append(_ context.Context, e events.Event) {
	if !e.Type.Alert() {
		return
	}
	t.Send(Format(e))
}

// Send ставит сообщение в очередь; при переполнении теряет его.
func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stop {
		return
	}
	select {
	case t.queue <- msg:
	default:
		t.log.Warn("[TG] queue full, message dropped")
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

func (t *Telegram) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.stop {
		t.stop = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var icons = map[events.Type]string{
	events.TypeOrderPlaced: "✅",
	events.TypeOrderFailed: "❗️",
	events.TypeHedgeClosed: "🔒",
	events.TypeStopRefused: "⛔️",
	events.TypeBotHalted:   "🛑",
	events.TypeCyclePanic:  "💥",
}

// Format: короткий текст для оператора: иконка, бот, сообщение, детали по ключам.
func Format(e events.Event) string {
	var b strings.Builder
	if icon, ok := icons[e.Type]; ok {
		b.WriteString(icon)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "[%s %s] %s", e.Bot, e.Symbol, e.Message)

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %v", k, e.Details[k])
	}
	return b.String()
}
