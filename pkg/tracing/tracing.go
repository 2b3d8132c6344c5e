package tracing

import (
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

type Config struct {
	ServiceName string `yaml:"service_name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Disabled    bool   `yaml:"disabled"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// InitTracer поднимает jaeger-трейсер. При Disabled отдаёт NoopTracer.
func InitTracer(conf Config) (opentracing.Tracer, io.Closer, error) {
	if conf.Disabled || conf.Host == "" {
		return opentracing.NoopTracer{}, nopCloser{}, nil
	}
	name := conf.ServiceName
	if name == "" {
		name = "trade_engine"
	}

	cfg := &jCfg.Configuration{
		ServiceName: name,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(metrics.NullFactory),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing.InitTracer: %w", err)
	}
	return tracer, closer, nil
}
