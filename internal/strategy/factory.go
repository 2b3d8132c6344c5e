package strategy

import (
	"go.uber.org/zap"

	"trade_engine/internal/models"
)

// NewForBot собирает генератор под конфиг бота. Классификатор подключается только
// если бот его запросил и он поднят в сервисе.
func NewForBot(cfg models.BotConfig, classifier Classifier, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.UseClassifier || classifier == nil {
		if cfg.UseClassifier {
			log.Warn("[SIGNAL] classifier requested but not configured, using rule ladder",
				zap.String("bot", cfg.Name))
		}
		return NewGenerator(cfg.Rules, nil, log)
	}
	return NewGenerator(cfg.Rules, classifier, log)
}
