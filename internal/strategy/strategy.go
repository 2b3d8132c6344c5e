package strategy

import (
	"context"

	"go.uber.org/zap"

	"trade_engine/internal/models"
)

// Classifier: внешний оракул: по вектору признаков отдаёт метку и вероятность.
type Classifier interface {
	Predict(ctx context.Context, features []float64) (models.Side, float64, error)
}

// Generator выдаёт сигнал: классификатор, если задан, иначе лестница правил.
type Generator struct {
	rules      models.RuleThresholds
	classifier Classifier
	log        *zap.Logger
}

func NewGenerator(rules models.RuleThresholds, classifier Classifier, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{rules: rules, classifier: classifier, log: log}
}

// Generate не возвращает ошибок: сбой классификатора откатывается на правила.
func (g *Generator) Generate(ctx context.Context, set models.IndicatorSet) models.Signal {
	if g.classifier != nil {
		side, prob, err := g.classifier.Predict(ctx, set.Features())
		if err == nil {
			return FromClassifier(side, prob)
		}
		g.log.Warn("[SIGNAL] classifier failed, using rule ladder", zap.Error(err))
		sig := Evaluate(set, g.rules)
		sig.Reason += " (classifier fallback)"
		return sig
	}
	return Evaluate(set, g.rules)
}

// FromClassifier переводит ответ классификатора в сигнал.
func FromClassifier(side models.Side, prob float64) models.Signal {
	if !side.Directional() {
		side = models.SideHold
	}
	return models.Signal{
		Side:       side,
		Confidence: clamp01(prob),
		Reason:     "classifier " + string(side),
		Source:     models.SourceClassifier,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v || v < 0: // NaN тоже сюда
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
