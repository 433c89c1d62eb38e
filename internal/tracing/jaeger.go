package tracing

import (
	"fmt"
	"io"
	"net"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go/config"
	jaegerzap "github.com/uber/jaeger-client-go/log/zap"

	"github.com/oneinbox/mailsync/internal/logger"
)

type JaegerConfig struct {
	Endpoint     string  `env:"JAEGER_ENDPOINT"`
	ServiceName  string  `env:"JAEGER_SERVICE_NAME" envDefault:"mailsync"`
	AgentHost    string  `env:"JAEGER_AGENT_HOST" envDefault:"localhost"`
	AgentPort    string  `env:"JAEGER_AGENT_PORT" envDefault:"6831"`
	Enabled      bool    `env:"JAEGER_ENABLED" envDefault:"false"`
	LogSpans     bool    `env:"JAEGER_REPORTER_LOG_SPANS" envDefault:"false"`
	SamplerType  string  `env:"JAEGER_SAMPLER_TYPE" envDefault:"const"`
	SamplerParam float64 `env:"JAEGER_SAMPLER_PARAM" envDefault:"1"`
}

// NewJaegerTracer builds the process tracer. When tracing is disabled
// it still returns a working no-op tracer, so callers never branch.
func NewJaegerTracer(jaegerConfig *JaegerConfig, log logger.Logger) (opentracing.Tracer, io.Closer, error) {
	if err := validateJaegerConfig(jaegerConfig); err != nil {
		return nil, nil, err
	}

	cfg := config.Configuration{
		ServiceName: jaegerConfig.ServiceName,
		Disabled:    !jaegerConfig.Enabled,
		Sampler: &config.SamplerConfig{
			Type:  jaegerConfig.SamplerType,
			Param: jaegerConfig.SamplerParam,
		},
		Reporter: &config.ReporterConfig{LogSpans: jaegerConfig.LogSpans},
	}

	// A collector endpoint wins over the UDP agent when both are set.
	if jaegerConfig.Endpoint != "" {
		cfg.Reporter.CollectorEndpoint = jaegerConfig.Endpoint
	} else {
		cfg.Reporter.LocalAgentHostPort = net.JoinHostPort(jaegerConfig.AgentHost, jaegerConfig.AgentPort)
	}

	return cfg.NewTracer(config.Logger(jaegerzap.NewLogger(log.Logger())))
}

func validateJaegerConfig(jaegerConfig *JaegerConfig) error {
	switch {
	case jaegerConfig == nil:
		return fmt.Errorf("jaeger config is nil")
	case jaegerConfig.ServiceName == "":
		return fmt.Errorf("jaeger service name is empty")
	case jaegerConfig.Endpoint == "" && jaegerConfig.AgentHost == "":
		return fmt.Errorf("jaeger needs a collector endpoint or an agent host")
	}
	return nil
}
