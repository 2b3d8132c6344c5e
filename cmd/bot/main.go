package main

import (
	"go.uber.org/fx"

	"trade_engine/internal/modules/bootstrap"
	brokermod "trade_engine/internal/modules/broker"
	classifiermod "trade_engine/internal/modules/classifier"
	"trade_engine/internal/modules/config"
	eventsmod "trade_engine/internal/modules/events"
	"trade_engine/internal/modules/health"
	"trade_engine/internal/modules/logger"
	"trade_engine/internal/modules/postgres"
	"trade_engine/internal/modules/tracing"
	"trade_engine/internal/runner"
)

func main() {
	fx.New(
		config.Module(),
		logger.Module(),
		tracing.Module(),
		postgres.Module(),
		brokermod.Module(),
		classifiermod.Module(),
		eventsmod.Module(),
		runner.Module(),
		bootstrap.Module(),
		health.Module(),
	).Run()
}
