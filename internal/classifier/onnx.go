// Package classifier: ONNX-модель как внешний оракул сигналов.
package classifier

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"trade_engine/internal/models"
	"trade_engine/internal/strategy"
)

type Config struct {
	Enabled    bool     `yaml:"enabled"`
	ModelPath  string   `yaml:"model_path"`
	SharedLib  string   `yaml:"shared_lib"` // путь к libonnxruntime; пусто: по ОС
	InputName  string   `yaml:"input_name"`
	OutputName string   `yaml:"output_name"`
	Labels     []string `yaml:"labels"` // порядок классов на выходе модели
}

func (c *Config) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	if len(c.Labels) == 0 {
		c.Labels = []string{string(models.SideSell), string(models.SideHold), string(models.SideBuy)}
	}
	if c.SharedLib == "" {
		switch runtime.GOOS {
		case "windows":
			c.SharedLib = "onnxruntime.dll"
		case "darwin":
			c.SharedLib = "libonnxruntime.dylib"
		default:
			c.SharedLib = "/usr/lib/libonnxruntime.so"
		}
	}
}

// ONNX держит одну сессию с заранее выделенными тензорами, вызовы сериализуются.
type ONNX struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []models.Side
	log     *zap.Logger
}

var _ strategy.Classifier = (*ONNX)(nil)

// NewONNX грузит модель со входом (1, features) и выходом (1, len(labels)).
func NewONNX(cfg Config, features int, log *zap.Logger) (*ONNX, error) {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	labels, err := parseLabels(cfg.Labels)
	if err != nil {
		return nil, err
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(cfg.SharedLib)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("classifier.NewONNX: init runtime: %w", err)
		}
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(features)), make([]float32, features))
	if err != nil {
		return nil, fmt.Errorf("classifier.NewONNX: input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("classifier.NewONNX: output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("classifier.NewONNX: session %s: %w", cfg.ModelPath, err)
	}

	log.Info("[CLASSIFIER] model loaded", zap.String("path", cfg.ModelPath), zap.Int("features", features),
		zap.Strings("labels", cfg.Labels))
	return &ONNX{session: session, input: input, output: output, labels: labels, log: log}, nil
}

func (m *ONNX) Predict(ctx context.Context, features []float64) (models.Side, float64, error) {
	if err := ctx.Err(); err != nil {
		return models.SideHold, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	in := m.input.GetData()
	if len(features) != len(in) {
		return models.SideHold, 0, fmt.Errorf("classifier: got %d features, model wants %d", len(features), len(in))
	}
	for i, f := range features {
		in[i] = float32(f)
	}
	if err := m.session.Run(); err != nil {
		return models.SideHold, 0, fmt.Errorf("classifier: inference: %w", err)
	}
	return decode(m.output.GetData(), m.labels)
}

func (m *ONNX) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, d := range []interface{ Destroy() error }{m.session, m.input, m.output} {
		if err := d.Destroy(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decode выбирает класс по argmax. Если выход не похож на распределение, это логиты:
// прогоняем через softmax.
func decode(out []float32, labels []models.Side) (models.Side, float64, error) {
	if len(out) != len(labels) || len(out) == 0 {
		return models.SideHold, 0, fmt.Errorf("classifier: output size %d, labels %d", len(out), len(labels))
	}

	probs := make([]float64, len(out))
	sum := 0.0
	isDist := true
	for i, v := range out {
		probs[i] = float64(v)
		if probs[i] < 0 || probs[i] > 1 || math.IsNaN(probs[i]) {
			isDist = false
		}
		sum += probs[i]
	}
	if !isDist || math.Abs(sum-1) > 1e-3 {
		probs = softmax(probs)
	}

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return labels[best], probs[best], nil
}

func softmax(x []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range x {
		maxV = math.Max(maxV, v)
	}
	out := make([]float64, len(x))
	sum := 0.0
	for i, v := range x {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func parseLabels(raw []string) ([]models.Side, error) {
	out := make([]models.Side, len(raw))
	for i, l := range raw {
		s := models.Side(l)
		switch s {
		case models.SideBuy, models.SideSell, models.SideHold:
			out[i] = s
		default:
			return nil, fmt.Errorf("classifier: unknown label %q", l)
		}
	}
	return out, nil
}
