package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade_engine/internal/models"
	"trade_engine/internal/runner"
)

// Pool: часть runner.Pool, нужная при старте.
type Pool interface {
	Create(cfg models.BotConfig) (runner.Handle, error)
	Start(ctx context.Context, h runner.Handle) error
}

// Launcher регистрирует ботов из конфига и запускает помеченные auto_start.
type Launcher struct {
	pool Pool
	log  *zap.Logger

	// ограничитель параллелизма, чтобы не словить rate limit на старте
	parallel int
}

func NewLauncher(pool Pool, log *zap.Logger) *Launcher {
	return &Launcher{pool: pool, log: log, parallel: 4}
}

// Launch падает на ошибке регистрации: кривой конфиг лучше увидеть сразу.
// Ошибка старта отдельного бота только логируется, бот остаётся STOPPED.
func (l *Launcher) Launch(ctx context.Context, bots []models.BotConfig) (started int, err error) {
	handles := make([]runner.Handle, len(bots))
	for i, cfg := range bots {
		h, err := l.pool.Create(cfg)
		if err != nil {
			return 0, fmt.Errorf("bootstrap.Launch: %w", err)
		}
		handles[i] = h
	}

	results := make([]bool, len(bots))
	var g errgroup.Group
	g.SetLimit(l.parallel)
	for i, cfg := range bots {
		if !cfg.AutoStart {
			continue
		}
		g.Go(func() error {
			if err := l.pool.Start(ctx, handles[i]); err != nil {
				l.log.Error("[BOOT] bot start failed", zap.String("bot", cfg.Name), zap.String("symbol", cfg.Symbol), zap.Error(err))
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if ok {
			started++
		}
	}
	l.log.Info("[BOOT] bots launched", zap.Int("registered", len(bots)), zap.Int("started", started))
	return started, nil
}
