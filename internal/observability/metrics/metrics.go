package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the OTLP meter provider and the prometheus const labels.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTLP-exported engine instruments.
type Metrics struct {
	evaluations   metric.Int64Counter
	ruleTriggers  metric.Int64Counter
	actionResults metric.Int64Counter
	healthScore   metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New creates the engine instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creatorops"
	}
	meter := provider.Meter(name)

	evaluations, err := meter.Int64Counter("creatorops_engine_evaluations_total")
	if err != nil {
		return nil, err
	}
	ruleTriggers, err := meter.Int64Counter("creatorops_engine_rule_triggers_total")
	if err != nil {
		return nil, err
	}
	actionResults, err := meter.Int64Counter("creatorops_engine_action_results_total")
	if err != nil {
		return nil, err
	}
	healthScore, err := meter.Float64Histogram("creatorops_engine_health_score",
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90, 100),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		evaluations:   evaluations,
		ruleTriggers:  ruleTriggers,
		actionResults: actionResults,
		healthScore:   healthScore,
	}, nil
}

func (m *Metrics) RecordEvaluation(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.evaluations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("source", source))...))
}

func (m *Metrics) RecordTrigger(ctx context.Context, source, ruleID string) {
	if m == nil {
		return
	}
	m.ruleTriggers.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
		attribute.String("rule_id", ruleID),
	)...))
}

func (m *Metrics) RecordAction(ctx context.Context, kind string, success bool) {
	if m == nil {
		return
	}
	m.actionResults.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("action_kind", kind),
		attribute.Bool("success", success),
	)...))
}

func (m *Metrics) RecordHealthScore(ctx context.Context, score float64, status string) {
	if m == nil {
		return
	}
	m.healthScore.Record(ctx, score, metric.WithAttributes(FilterAttributes(attribute.String("status", status))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Rule ids are bounded by the registry; entity ids never appear as labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":      {},
	"rule_id":     {},
	"action_kind": {},
	"success":     {},
	"status":      {},
	"stage":       {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
