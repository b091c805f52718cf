// Package pipeline runs the acquisition and compositing stages for one
// configured session.
package pipeline

import (
	"time"

	"s2batch/internal/catalog"
	"s2batch/internal/config"
	"s2batch/internal/ledger"
	"s2batch/internal/logging"
	"s2batch/internal/observability"
	"s2batch/internal/raster"

	"github.com/google/uuid"
)

// Session carries everything one run needs. Nothing in the pipeline reads
// process-wide state.
type Session struct {
	RunID   string
	Config  config.Config
	Catalog catalog.Catalog
	Stacker raster.Stacker
	Ledger  *ledger.Store
	Logger  logging.Logger
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider

	now func() time.Time
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithCatalog sets the catalog used by the query and fetch stages.
func WithCatalog(cat catalog.Catalog) SessionOption {
	return func(s *Session) { s.Catalog = cat }
}

// WithStacker sets the raster writer used by the composite stage.
func WithStacker(st raster.Stacker) SessionOption {
	return func(s *Session) { s.Stacker = st }
}

// WithLedger records per-product state in store.
func WithLedger(store *ledger.Store) SessionOption {
	return func(s *Session) { s.Ledger = store }
}

// WithLogger sets the session logger.
func WithLogger(logger logging.Logger) SessionOption {
	return func(s *Session) { s.Logger = logger }
}

// WithObservability sets metrics and tracing.
func WithObservability(metrics *observability.MetricsCollector, tracer *observability.TracerProvider) SessionOption {
	return func(s *Session) {
		s.Metrics = metrics
		s.Tracer = tracer
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) SessionOption {
	return func(s *Session) { s.RunID = id }
}

// NewSession builds a session for cfg with a fresh run id.
func NewSession(cfg config.Config, opts ...SessionOption) *Session {
	s := &Session{
		RunID:  uuid.NewString(),
		Config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = logging.NewComponentLogger("pipeline")
	}
	s.Logger = logging.WithRunID(s.Logger, s.RunID)
	return s
}
