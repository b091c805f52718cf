package main

import (
	"context"
	"time"

	"s2batch/internal/logging"
	"s2batch/internal/observability"
)

// obsStack is the logging, metrics and tracing set up for one command.
type obsStack struct {
	metrics        *observability.MetricsCollector
	catalogMetrics *observability.CatalogMetrics
	tracer         *observability.TracerProvider
}

// setupObservability reads the observability section of the config file in
// use and installs the default logger.
func (a *app) setupObservability() (*obsStack, error) {
	cfg, err := observability.LoadConfig(a.v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	logging.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: a.stderr,
	}))

	metrics, err := observability.NewMetricsCollector(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(cfg.Metrics.PrometheusPort, cfg.Metrics.Gatherer)
	}
	tracer, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		_ = metrics.Shutdown(context.Background())
		return nil, err
	}
	stack := &obsStack{metrics: metrics, tracer: tracer}
	if cfg.Metrics.Enabled {
		stack.catalogMetrics = observability.NewCatalogMetrics()
	}
	return stack, nil
}

func (o *obsStack) shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.tracer.Shutdown(ctx)
	_ = o.metrics.Shutdown(ctx)
}
