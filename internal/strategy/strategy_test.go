package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"trade_engine/internal/models"
)

type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Predict(ctx context.Context, features []float64) (models.Side, float64, error) {
	args := m.Called(ctx, features)
	return args.Get(0).(models.Side), args.Get(1).(float64), args.Error(2)
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	oversold := models.IndicatorSet{RSI: 25, Price: 100, SMAShort: 100, SMALong: 100}

	t.Run("classifier replaces ladder", func(t *testing.T) {
		m := new(MockClassifier)
		m.On("Predict", ctx, oversold.Features()).Return(models.SideSell, 0.91, nil)

		sig := NewGenerator(models.DefaultRuleThresholds(), m, nil).Generate(ctx, oversold)

		assert.Equal(t, models.SideSell, sig.Side)
		assert.Equal(t, 0.91, sig.Confidence)
		assert.Equal(t, models.SourceClassifier, sig.Source)
		m.AssertExpectations(t)
	})

	t.Run("classifier error falls back to ladder", func(t *testing.T) {
		m := new(MockClassifier)
		m.On("Predict", ctx, mock.Anything).Return(models.SideHold, 0.0, errors.New("session closed"))

		sig := NewGenerator(models.DefaultRuleThresholds(), m, nil).Generate(ctx, oversold)

		assert.Equal(t, models.SideBuy, sig.Side)
		assert.Equal(t, 0.85, sig.Confidence)
		assert.Equal(t, models.SourceRules, sig.Source)
	})

	t.Run("unknown label becomes hold", func(t *testing.T) {
		sig := FromClassifier(models.Side("WAIT"), 1.7)
		assert.Equal(t, models.SideHold, sig.Side)
		assert.Equal(t, 1.0, sig.Confidence)
	})

	t.Run("classifier ignored unless bot asks for it", func(t *testing.T) {
		m := new(MockClassifier)
		cfg := models.BotConfig{Name: "x", Rules: models.DefaultRuleThresholds()}

		sig := NewForBot(cfg, m, nil).Generate(ctx, oversold)

		assert.Equal(t, models.SourceRules, sig.Source)
		m.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
	})
}
