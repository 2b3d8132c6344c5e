// Package hedge разруливает встречные позиции одного бота: если одна сторона
// в хорошем плюсе, а другая в минусе, закрываем минусовую и фиксируем нетто.
// Эвристика жадная, не оптимальная.
package hedge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/executor"
	"trade_engine/internal/models"
)

// Plan: решение по набору позиций.
type Plan struct {
	Close      bool
	CloseSide  models.Side
	Positions  []models.Position // что закрывать
	BuyProfit  float64
	SellProfit float64
	Net        float64
	Reason     string
}

// Evaluate считает прибыль по сторонам и решает, закрывать ли проигрывающую.
// Нужны все три условия: победитель > LockInProfit, проигравший < LossLimit,
// нетто > MinNetProfit. Границы строгие.
func Evaluate(positions []models.Position, cfg models.HedgeConfig) Plan {
	var plan Plan
	var buys, sells []models.Position
	for _, p := range positions {
		switch p.Side {
		case models.SideBuy:
			buys = append(buys, p)
			plan.BuyProfit += p.Profit
		case models.SideSell:
			sells = append(sells, p)
			plan.SellProfit += p.Profit
		}
	}
	plan.Net = plan.BuyProfit + plan.SellProfit

	switch {
	case len(positions) < 2:
		plan.Reason = "fewer than two positions"
		return plan
	case len(buys) == 0 || len(sells) == 0:
		plan.Reason = "no opposing positions"
		return plan
	case plan.BuyProfit >= 0 && plan.SellProfit >= 0:
		plan.Reason = "both sides profitable"
		return plan
	}

	winner, loser := plan.BuyProfit, plan.SellProfit
	loserSide, losers := models.SideSell, sells
	if plan.SellProfit > plan.BuyProfit {
		winner, loser = plan.SellProfit, plan.BuyProfit
		loserSide, losers = models.SideBuy, buys
	}

	if winner <= cfg.LockInProfit || loser >= cfg.LossLimit || plan.Net <= cfg.MinNetProfit {
		plan.Reason = fmt.Sprintf("thresholds not met: winner=%.2f/%.2f loser=%.2f/%.2f net=%.2f/%.2f",
			winner, cfg.LockInProfit, loser, cfg.LossLimit, plan.Net, cfg.MinNetProfit)
		return plan
	}

	plan.Close = true
	plan.CloseSide = loserSide
	plan.Positions = losers
	plan.Reason = fmt.Sprintf("lock net %.2f: close %s side (%.2f)", plan.Net, loserSide, loser)
	return plan
}

// Closer закрывает позицию встречной заявкой. Реализует executor.Executor.
type Closer interface {
	Close(ctx context.Context, p models.Position, tick models.Tick) (executor.Result, error)
}

type Resolver struct {
	closer Closer
	log    *zap.Logger
}

func NewResolver(closer Closer, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{closer: closer, log: log}
}

// Resolve применяет Evaluate и закрывает позиции проигравшей стороны.
// Возвращает план и реально закрытые позиции. Ошибку отдаёт только при потере связи.
func (r *Resolver) Resolve(ctx context.Context, positions []models.Position, tick models.Tick, cfg models.HedgeConfig) (Plan, []models.Position, error) {
	plan := Evaluate(positions, cfg)
	if !plan.Close {
		return plan, nil, nil
	}

	r.log.Info("[HEDGE] closing losing side",
		zap.String("side", string(plan.CloseSide)),
		zap.Float64("buy_profit", plan.BuyProfit),
		zap.Float64("sell_profit", plan.SellProfit),
		zap.Float64("net", plan.Net),
		zap.Int("positions", len(plan.Positions)),
	)

	var closed []models.Position
	for _, p := range plan.Positions {
		res, err := r.closer.Close(ctx, p, tick)
		if err != nil {
			if broker.IsConnectionLost(err) {
				return plan, closed, fmt.Errorf("hedge.Resolve: %w", err)
			}
			r.log.Error("[HEDGE] close failed", zap.String("ticket", p.Ticket), zap.Error(err))
			continue
		}
		if !res.Success {
			r.log.Warn("[HEDGE] close rejected",
				zap.String("ticket", p.Ticket),
				zap.String("kind", string(res.Kind)),
				zap.String("msg", res.Message))
			continue
		}
		closed = append(closed, p)
	}
	return plan, closed, nil
}
