package observability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Stage outcomes recorded by the pipeline.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeOffline = "offline"
	OutcomeFailed  = "failed"
)

// MetricsCollector records pipeline stage and catalog metrics.
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	stageItems    metric.Int64Counter
	stageDuration metric.Float64Histogram

	catalogRequests metric.Int64Counter
	catalogLatency  metric.Float64Histogram

	downloadBytes metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`

	// Registerer receives the exporter's collectors. Nil uses the default registry.
	Registerer promclient.Registerer `yaml:"-"`
	// Gatherer backs the /metrics endpoint. Nil uses the default gatherer.
	Gatherer promclient.Gatherer `yaml:"-"`
}

// NewMetricsCollector creates a new metrics collector. A disabled config
// returns a collector whose Record methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	var exporterOpts []prometheus.Option
	if config.Registerer != nil {
		exporterOpts = append(exporterOpts, prometheus.WithRegisterer(config.Registerer))
	}
	exporter, err := prometheus.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	meter := provider.Meter("s2batch")

	stageItems, err := meter.Int64Counter(
		"s2batch.stage.items",
		metric.WithDescription("Items processed per pipeline stage, by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage_items counter: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"s2batch.stage.duration",
		metric.WithDescription("Duration of one item within a pipeline stage in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage_duration histogram: %w", err)
	}

	catalogRequests, err := meter.Int64Counter(
		"s2batch.catalog.requests",
		metric.WithDescription("Catalog requests by operation and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog_requests counter: %w", err)
	}

	catalogLatency, err := meter.Float64Histogram(
		"s2batch.catalog.latency",
		metric.WithDescription("Catalog request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog_latency histogram: %w", err)
	}

	downloadBytes, err := meter.Int64Counter(
		"s2batch.download.bytes",
		metric.WithDescription("Archive bytes written to the output directory"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create download_bytes counter: %w", err)
	}

	collector := &MetricsCollector{
		meter:           meter,
		provider:        provider,
		stageItems:      stageItems,
		stageDuration:   stageDuration,
		catalogRequests: catalogRequests,
		catalogLatency:  catalogLatency,
		downloadBytes:   downloadBytes,
	}

	if config.PrometheusPort > 0 {
		gatherer := config.Gatherer
		if gatherer == nil {
			gatherer = promclient.DefaultGatherer
		}
		collector.StartPrometheusServer(config.PrometheusPort, gatherer)
	}

	return collector, nil
}

// StartPrometheusServer serves /metrics for the lifetime of the run.
func (m *MetricsCollector) StartPrometheusServer(port int, gatherer promclient.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Prometheus server error: %v", err)
		}
	}()
}

// Shutdown flushes the meter provider and stops the metrics server.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.prometheusServer != nil {
		errs = append(errs, m.prometheusServer.Shutdown(ctx))
	}
	if m.provider != nil {
		errs = append(errs, m.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// RecordStageItem records one item leaving a pipeline stage.
func (m *MetricsCollector) RecordStageItem(ctx context.Context, stage, outcome string, duration time.Duration) {
	if m == nil || m.stageItems == nil {
		return
	}
	m.stageItems.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCatalogRequest records one catalog HTTP exchange.
func (m *MetricsCollector) RecordCatalogRequest(ctx context.Context, op string, status int, latency time.Duration) {
	if m == nil || m.catalogRequests == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.Int("status", status),
	}
	m.catalogRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.catalogLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("op", op)))
}

// RecordDownloadBytes adds to the downloaded byte total.
func (m *MetricsCollector) RecordDownloadBytes(ctx context.Context, n int64) {
	if m == nil || m.downloadBytes == nil || n <= 0 {
		return
	}
	m.downloadBytes.Add(ctx, n)
}
