package classifier

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_engine/internal/classifier"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/strategy"
)

type Result struct {
	fx.Out

	Classifier strategy.Classifier
}

// NewClassifier поднимает ONNX-модель, если она включена. Иначе боты работают по лестнице.
func NewClassifier(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (Result, error) {
	if !cfg.Classifier.Enabled {
		return Result{}, nil
	}
	features := len(models.IndicatorSet{}.Features())
	m, err := classifier.NewONNX(cfg.Classifier, features, log.Named("classifier"))
	if err != nil {
		return Result{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return m.Close()
		},
	})
	return Result{Classifier: m}, nil
}

func Module() fx.Option {
	return fx.Module("classifier",
		fx.Provide(NewClassifier),
	)
}
