package config

import (
	"go.uber.org/fx"

	"trade_engine/internal/models"
)

type Bots []models.BotConfig

func NewBots(cfg *Config) (Bots, error) {
	return LoadBots(cfg.BotsFile)
}

// Module регистрирует конфиг сервиса и список ботов.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			NewBots,
		),
	)
}
