package events

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_engine/internal/events"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/notify"
	"trade_engine/pkg/db"
)

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg *config.Config
	Pg  *db.PgTxManager
	Log *zap.Logger
}

// NewSink собирает журнал: лог всегда, хранилище и телеграм: по конфигу.
func NewSink(p Params) (events.Sink, error) {
	log := p.Log.Named("events")
	sinks := events.Fanout{events.NewLogSink(log)}

	store, closeStore, err := openStore(p.Cfg, p.Pg)
	if err != nil {
		return nil, err
	}
	if store != nil {
		ec := p.Cfg.Events
		async := events.NewAsync(store, ec.Buffer, ec.BatchSize, ec.Flush, log)
		sinks = append(sinks, async)
		p.Lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go async.Run()
				log.Info("[EVENT] store ready", zap.String("store", ec.Store))
				return nil
			},
			OnStop: func(ctx context.Context) error {
				err := async.Close(ctx)
				if n := async.Dropped(); n > 0 {
					log.Warn("[EVENT] events dropped", zap.Int64("count", n))
				}
				closeStore()
				return err
			},
		})
	}

	if tg := p.Cfg.Telegram; tg.Token != "" && tg.ChatID != 0 {
		api, err := notify.NewTelegramAPI(tg.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		n := notify.NewTelegram(api, tg.ChatID, log)
		sinks = append(sinks, n)
		p.Lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go n.Run()
				n.Sendf("trade engine started (%s)", p.Cfg.Broker.Kind)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return n.Close(ctx)
			},
		})
	}
	return sinks, nil
}

func openStore(cfg *config.Config, pg *db.PgTxManager) (events.Store, func(), error) {
	switch cfg.Events.Store {
	case "postgres":
		if pg == nil {
			return nil, nil, fmt.Errorf("events: postgres store without db_dsn")
		}
		s := events.NewPgStore(pg)
		if err := s.EnsureSchema(context.Background()); err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Events.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("events: %w", err)
			}
		}
		s, err := events.OpenSQLite(context.Background(), cfg.Events.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, nil
}

func Module() fx.Option {
	return fx.Module("events",
		fx.Provide(NewSink),
	)
}
