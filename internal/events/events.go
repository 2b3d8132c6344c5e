// Package events: журнал событий ботов. Запись fire-and-forget: сбой
// хранилища не должен тормозить или ронять цикл бота.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	TypeSignal         Type = "signal"
	TypeBlocked        Type = "blocked"
	TypeRiskDenied     Type = "risk_denied"
	TypeOrderPlaced    Type = "order_placed"
	TypeOrderFailed    Type = "order_failed"
	TypePositionClosed Type = "position_closed"
	TypeHedgeClosed    Type = "hedge_closed"
	TypeBotStarted     Type = "bot_started"
	TypeBotStopped     Type = "bot_stopped"
	TypeStopRefused    Type = "stop_refused"
	TypeBotHalted      Type = "bot_halted"
	TypeCyclePanic     Type = "cycle_panic"
)

// Alert: события, о которых стоит сказать оператору.
func (t Type) Alert() bool {
	switch t {
	case TypeOrderPlaced, TypeOrderFailed, TypeHedgeClosed, TypeStopRefused, TypeBotHalted, TypeCyclePanic:
		return true
	}
	return false
}

type Event struct {
	BotID   string
	Bot     string
	Symbol  string
	Type    Type
	Message string
	Details map[string]any
	At      time.Time
}

// Sink принимает события. Append не блокирует и не возвращает ошибок.
type Sink interface {
	Append(ctx context.Context, e Event)
}

type Nop struct{}

func (Nop) Append(context.Context, Event) {}

// LogSink пишет события в zap.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Append(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("bot", e.Bot),
		zap.String("symbol", e.Symbol),
		zap.String("type", string(e.Type)),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	if e.Type.Alert() {
		s.log.Warn("[EVENT] "+e.Message, fields...)
		return
	}
	s.log.Info("[EVENT] "+e.Message, fields...)
}

// Fanout раздаёт событие всем синкам по очереди.
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, e Event) {
	for _, s := range f {
		if s != nil {
			s.Append(ctx, e)
		}
	}
}

// Emitter привязывает синк к конкретному боту.
type Emitter struct {
	sink   Sink
	botID  string
	bot    string
	symbol string
	now    func() time.Time
}

func NewEmitter(sink Sink, botID, bot, symbol string) *Emitter {
	if sink == nil {
		sink = Nop{}
	}
	return &Emitter{sink: sink, botID: botID, bot: bot, symbol: symbol, now: time.Now}
}

func (e *Emitter) Emit(ctx context.Context, t Type, msg string, details map[string]any) {
	e.sink.Append(ctx, Event{
		BotID:   e.botID,
		Bot:     e.bot,
		Symbol:  e.symbol,
		Type:    t,
		Message: msg,
		Details: details,
		At:      e.now().UTC(),
	})
}
