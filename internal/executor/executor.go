// Package executor строит заявку по разрешённому сигналу, отправляет её брокеру
// и разбирает ответ. Повторов нет: решение о следующей попытке за ботом.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
)

// Request: что исполнять.
type Request struct {
	Symbol string
	Tag    string
	Volume float64
	Stops  models.StopSpec
	Signal models.Signal
	Meta   models.InstrumentMeta
	Tick   models.Tick
}

// Result: SUCCESS с позицией или FAILURE с классом отказа.
type Result struct {
	Success  bool
	Order    models.TradeOrder
	Position models.Position
	Levels   Levels
	Kind     models.ErrorKind
	Message  string
}

// Err: отказ в виде sentinel-ошибки брокера, для статуса бота.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	switch {
	case r.Kind.InvalidParams():
		return fmt.Errorf("%w: %s", broker.ErrInvalidOrderParams, r.Message)
	case r.Kind == models.ErrKindMarketClosed:
		return fmt.Errorf("%w: %s", broker.ErrMarketClosed, r.Message)
	case r.Kind == models.ErrKindTradingDisabled:
		return fmt.Errorf("%w: %s", broker.ErrTradingDisabled, r.Message)
	}
	return fmt.Errorf("order rejected (%s): %s", r.Kind, r.Message)
}

func failure(order models.TradeOrder, kind models.ErrorKind, format string, args ...any) Result {
	return Result{Order: order, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

type Executor struct {
	gw  broker.Gateway
	log *zap.Logger
	now func() time.Time
}

func New(gw broker.Gateway, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{gw: gw, log: log, now: time.Now}
}

// Execute возвращает error только при сбое транспорта (например, ErrConnectionLost).
// Отказы по параметрам и отказы брокера приходят в Result.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	side := req.Signal.Side
	order := models.TradeOrder{Symbol: req.Symbol, Side: side, Tag: req.Tag, ClientID: NewClientID()}
	if !side.Directional() {
		return failure(order, models.ErrKindUnknown, "nothing to execute for %s", side), nil
	}

	if !req.Tick.Valid() {
		return failure(order, models.ErrKindInvalidPrice, "bad tick bid=%.8f ask=%.8f", req.Tick.Bid, req.Tick.Ask), nil
	}
	order.Price = EntryPrice(side, req.Tick)

	volume, err := NormalizeVolume(req.Volume, req.Meta)
	if err != nil {
		return failure(order, models.ErrKindInvalidVolume, "%v", err), nil
	}
	order.Volume = volume

	lv, err := ComputeLevels(side, order.Price, volume, req.Meta, req.Stops)
	if err != nil {
		return failure(order, models.ErrKindInvalidStops, "%v", err), nil
	}
	order.StopLoss, order.TakeProfit = lv.StopLoss, lv.TakeProfit
	order.CreatedAt = e.now()

	e.log.Info("[EXEC] submit",
		zap.String("side", string(side)),
		zap.Float64("volume", order.Volume),
		zap.Float64("price", order.Price),
		zap.Float64("sl", order.StopLoss),
		zap.Float64("tp", order.TakeProfit),
		zap.Float64("sl_points", lv.SLPoints),
		zap.Float64("tp_points", lv.TPPoints),
		zap.String("client_id", order.ClientID),
	)

	res, err := e.gw.SubmitOrder(ctx, order)
	if err != nil {
		out := failure(order, models.ErrKindUnknown, "%v", err)
		out.Levels = lv
		return out, fmt.Errorf("executor.Execute: %w", err)
	}
	if res.Status != models.OrderFilled || res.Ticket == "" {
		kind := res.ErrorKind
		if kind == models.ErrKindNone {
			kind = models.ErrKindUnknown
		}
		out := failure(order, kind, "%s", res.Message)
		out.Levels = lv
		return out, nil
	}

	fill := res.FillPrice
	if fill <= 0 {
		fill = order.Price
	}
	return Result{
		Success: true,
		Order:   order,
		Levels:  lv,
		Position: models.Position{
			Ticket:     res.Ticket,
			Symbol:     order.Symbol,
			Side:       side,
			Volume:     order.Volume,
			OpenPrice:  fill,
			StopLoss:   order.StopLoss,
			TakeProfit: order.TakeProfit,
			Tag:        order.Tag,
			OpenedAt:   order.CreatedAt,
		},
	}, nil
}

// Close закрывает позицию встречной рыночной заявкой.
func (e *Executor) Close(ctx context.Context, p models.Position, tick models.Tick) (Result, error) {
	side := p.Side.Opposite()
	order := models.TradeOrder{
		Symbol:      p.Symbol,
		Side:        side,
		Volume:      p.Volume,
		Price:       EntryPrice(side, tick),
		Tag:         p.Tag,
		ClientID:    NewClientID(),
		CloseTicket: p.Ticket,
		CreatedAt:   e.now(),
	}

	res, err := e.gw.SubmitOrder(ctx, order)
	if err != nil {
		return failure(order, models.ErrKindUnknown, "%v", err), fmt.Errorf("executor.Close: %w", err)
	}
	if res.Status != models.OrderFilled {
		kind := res.ErrorKind
		if kind == models.ErrKindNone {
			kind = models.ErrKindUnknown
		}
		return failure(order, kind, "%s", res.Message), nil
	}
	return Result{Success: true, Order: order, Position: p}, nil
}

// NewClientID: 32 символа без дефисов, подходит под clOrdId площадок.
func NewClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
