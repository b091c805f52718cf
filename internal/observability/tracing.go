package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

// TracerProvider wraps OpenTelemetry tracer
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a new tracer provider
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("s2batch"),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "s2batch"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "otlp", "":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("s2batch"),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer("s2batch")
	}
	return tp.tracer
}

// StartSpan starts a new span tagged with the run id carried by ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := noop.NewTracerProvider().Tracer("s2batch")
	if tp != nil && tp.tracer != nil {
		tracer = tp.tracer
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Common span names
const (
	SpanRun             = "s2batch.run"
	SpanStageQuery      = "s2batch.stage.query"
	SpanStageDedup      = "s2batch.stage.dedup"
	SpanStageFetch      = "s2batch.stage.fetch"
	SpanStageExpand     = "s2batch.stage.expand"
	SpanStageComposite  = "s2batch.stage.composite"
	SpanCatalogRequest  = "s2batch.catalog.request"
	SpanProductDownload = "s2batch.fetch.product"
	SpanGranuleStack    = "s2batch.composite.granule"
)

// Common attribute keys
const (
	AttrRunID       = "s2batch.run_id"
	AttrProductID   = "s2batch.product.id"
	AttrProductName = "s2batch.product.name"
	AttrTile        = "s2batch.tile"
	AttrStage       = "s2batch.stage"
	AttrOutcome     = "s2batch.outcome"
	AttrCatalogOp   = "s2batch.catalog.op"
)

// ProductAttrs creates product attributes
func ProductAttrs(id, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrProductID, id),
		attribute.String(AttrProductName, name),
	}
}

// StageAttrs creates stage attributes
func StageAttrs(stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStage, stage),
	}
}

// CatalogOpAttrs creates catalog operation attributes
func CatalogOpAttrs(op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCatalogOp, op),
	}
}

// OutcomeAttrs creates outcome attributes
func OutcomeAttrs(outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrOutcome, outcome),
	}
}
