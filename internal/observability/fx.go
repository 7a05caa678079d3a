package observability

import (
	"github.com/smallbiznis/creatorops/internal/observability/logger"
	"github.com/smallbiznis/creatorops/internal/observability/metrics"
	"github.com/smallbiznis/creatorops/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		splitConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.EngineWithConfig,
	),
	fx.Invoke(announce),
)

// componentConfigs fans the process-level settings out to each telemetry component.
type componentConfigs struct {
	fx.Out

	Logger  logger.Config
	Tracing tracing.Config
	Metrics metrics.Config
}

func splitConfig(cfg Config) componentConfigs {
	return componentConfigs{
		Logger: logger.Config{
			ServiceName:         cfg.ServiceName,
			Environment:         cfg.Environment,
			Version:             cfg.Version,
			Level:               cfg.LogLevel,
			Format:              cfg.LogFormat,
			IncludeCaller:       true,
			IncludeStackOnError: cfg.Debug(),
		},
		Tracing: tracing.Config{
			Enabled:          cfg.OtelEnabled,
			ServiceName:      cfg.ServiceName,
			ServiceVersion:   cfg.Version,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.OtelExporterEndpoint,
			ExporterProtocol: cfg.OtelExporterProtocol,
			SamplingRatio:    cfg.OtelSamplingRatio,
		},
		Metrics: metrics.Config{
			Enabled:          cfg.OtelEnabled,
			ExporterEndpoint: cfg.OtelExporterEndpoint,
			ExporterProtocol: cfg.OtelExporterProtocol,
			ServiceName:      cfg.ServiceName,
			Environment:      cfg.Environment,
		},
	}
}

// announce builds the tracer provider and engine series eagerly so the
// first sweep is already instrumented.
func announce(log *zap.Logger, cfg Config, _ *sdktrace.TracerProvider, _ *metrics.EngineMetrics) {
	fields := []zap.Field{
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.Bool("otel_enabled", cfg.OtelEnabled),
	}
	if cfg.OtelEnabled {
		fields = append(fields,
			zap.String("otel_protocol", cfg.OtelExporterProtocol),
			zap.Float64("otel_sampling_ratio", cfg.OtelSamplingRatio),
		)
	}
	log.Named("observability").Info("telemetry configured", fields...)
}
