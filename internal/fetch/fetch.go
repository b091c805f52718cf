// Package fetch downloads deduplicated products into the output directory.
// An archive already present under its expected name is never fetched again.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"s2batch/internal/async"
	"s2batch/internal/catalog"
	s2errors "s2batch/internal/errors"
	"s2batch/internal/ledger"
	"s2batch/internal/logging"
	"s2batch/internal/observability"

	"golang.org/x/sync/errgroup"
)

// Outcome is the per-product result of a fetch.
type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeExisting   Outcome = "existing"
	OutcomeOffline    Outcome = "offline"
	OutcomeFailed     Outcome = "failed"
	// OutcomeNotAttempted marks products left untouched after an abort.
	OutcomeNotAttempted Outcome = "not-attempted"
)

// RetrievalFailureLimit is how many refused restore requests stop further
// requests for the rest of a pass.
const RetrievalFailureLimit = 3

// OfflineHint is appended to offline warnings.
const OfflineHint = "retrieval from the long-term archive is not immediate; re-run in 24 hours"

// Recorder stores per-product state. *ledger.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Options control one fetch pass.
type Options struct {
	OutputDir string
	// Workers bounds concurrent products. Values below 1 mean sequential.
	Workers int
	// ContinueOnError keeps going after a transport failure instead of
	// aborting the pass.
	ContinueOnError bool
	// TriggerRetrieval asks the hub to restore offline products.
	TriggerRetrieval bool
	RunID            string
}

// Item is the result for one product.
type Item struct {
	Product  catalog.Product
	Outcome  Outcome
	Path     string
	Err      error
	Duration time.Duration
	// Retryable is set on failures that a later run may get past.
	Retryable bool
}

// Report lists results in input order.
type Report struct {
	Items []Item
}

// Count returns how many items ended with outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// Retryable counts failed items whose error was not permanent.
func (r Report) Retryable() int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == OutcomeFailed && item.Retryable {
			n++
		}
	}
	return n
}

// Archives returns the local archive paths that exist after the pass.
func (r Report) Archives() []string {
	var paths []string
	for _, item := range r.Items {
		if item.Outcome == OutcomeDownloaded || item.Outcome == OutcomeExisting {
			paths = append(paths, item.Path)
		}
	}
	return paths
}

// Coordinator resolves availability and downloads archives.
type Coordinator struct {
	catalog  catalog.Catalog
	recorder Recorder
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
	// retrieval stops restore requests once the hub keeps refusing them.
	retrieval *s2errors.CircuitBreaker
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithRecorder records outcomes in a ledger.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(logger) }
}

// WithMetrics records per-item stage metrics.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer wraps each product in a span.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tp }
}

// NewCoordinator returns a coordinator over cat.
func NewCoordinator(cat catalog.Catalog, opts ...Option) *Coordinator {
	c := &Coordinator{
		catalog: cat,
		logger:  logging.NewComponentLogger("fetch"),
		retrieval: s2errors.NewCircuitBreaker("retrieval", s2errors.CircuitBreakerConfig{
			FailureThreshold: RetrievalFailureLimit,
			SuccessThreshold: 1,
			Timeout:          time.Hour,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch processes products and returns a report in input order. The error is
// non-nil when the pass was aborted: on authentication failure always, and on
// any transport failure unless ContinueOnError is set.
func (c *Coordinator) Fetch(ctx context.Context, products []catalog.Product, opts Options) (Report, error) {
	if opts.OutputDir == "" {
		return Report{}, fmt.Errorf("fetch: output directory is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("fetch: create output directory: %w", err)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	c.retrieval.Reset()

	items := make([]Item, len(products))
	for i, p := range products {
		items[i] = Item{Product: p, Outcome: OutcomeNotAttempted}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		mu        sync.Mutex
		completed int
	)
	for i, p := range products {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			item := c.fetchOne(gctx, p, opts)

			mu.Lock()
			items[i] = item
			completed++
			done := completed
			mu.Unlock()

			c.logger.Debug("[%d/%d] %s: %s", done, len(products), p.Name(), item.Outcome)
			if item.Outcome == OutcomeFailed && (!opts.ContinueOnError || errors.Is(item.Err, catalog.ErrUnauthorized)) {
				return fmt.Errorf("fetch %s: %w", p.Name(), item.Err)
			}
			return nil
		})
	}
	err := g.Wait()

	report := Report{Items: items}
	c.logger.Info("Fetch complete: %d downloaded, %d already present, %d offline, %d failed",
		report.Count(OutcomeDownloaded), report.Count(OutcomeExisting), report.Count(OutcomeOffline), report.Count(OutcomeFailed))
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

func (c *Coordinator) fetchOne(ctx context.Context, p catalog.Product, opts Options) (item Item) {
	start := time.Now()
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanProductDownload, observability.ProductAttrs(p.ID, p.Name())...)
	item = Item{Product: p, Path: filepath.Join(opts.OutputDir, p.ArchiveName())}
	defer func() {
		item.Duration = time.Since(start)
		c.metrics.RecordStageItem(ctx, "fetch", stageOutcome(item.Outcome), item.Duration)
		span.SetAttributes(observability.OutcomeAttrs(string(item.Outcome))...)
		observability.EndSpan(span, item.Err)
	}()
	defer func() {
		if r := recover(); r != nil {
			item = c.fail(ctx, item, opts, async.PanicError(c.logger, "fetch "+p.Name(), r))
		}
	}()

	if info, err := os.Stat(item.Path); err == nil && info.Mode().IsRegular() {
		item.Outcome = OutcomeExisting
		c.logger.Info("%s already exists, skipping download", p.ArchiveName())
		return item
	}

	status, err := c.catalog.Status(ctx, p.ID)
	if err != nil {
		return c.fail(ctx, item, opts, fmt.Errorf("status: %w", err))
	}
	if status.Availability == catalog.Offline {
		return c.offline(ctx, item, opts)
	}

	p.Online = true
	if status.Checksum != "" {
		p.Checksum = status.Checksum
	}
	item.Product = p

	path, err := c.catalog.Download(ctx, p, opts.OutputDir)
	if errors.Is(err, catalog.ErrOffline) {
		return c.offline(ctx, item, opts)
	}
	if err != nil {
		return c.fail(ctx, item, opts, fmt.Errorf("download: %w", err))
	}

	item.Path = path
	item.Outcome = OutcomeDownloaded
	c.logger.Info("Downloaded %s", filepath.Base(path))
	c.record(ctx, item, ledger.StateDownloaded, "", opts.RunID)
	return item
}

func (c *Coordinator) offline(ctx context.Context, item Item, opts Options) Item {
	item.Outcome = OutcomeOffline
	msg := fmt.Sprintf("%s is offline; %s", item.Product.Name(), OfflineHint)
	c.logger.Warn("%s", msg)
	if opts.TriggerRetrieval {
		err := c.retrieval.Execute(ctx, func(ctx context.Context) error {
			return c.catalog.TriggerRetrieval(ctx, item.Product.ID)
		})
		switch {
		case errors.Is(err, s2errors.ErrCircuitOpen):
			c.logger.Debug("Not requesting retrieval of %s: the hub refused the last %d requests", item.Product.Name(), RetrievalFailureLimit)
		case err != nil:
			c.logger.Warn("Could not request retrieval of %s: %v", item.Product.Name(), err)
		}
	}
	c.record(ctx, item, ledger.StateOffline, msg, opts.RunID)
	return item
}

func (c *Coordinator) fail(ctx context.Context, item Item, opts Options, err error) Item {
	item.Outcome = OutcomeFailed
	item.Err = err
	item.Retryable = !s2errors.IsPermanent(err)
	msg := describeFailure(err)
	c.logger.Error("Fetching %s failed: %s", item.Product.Name(), msg)
	c.record(context.WithoutCancel(ctx), item, ledger.StateFailed, msg, opts.RunID)
	return item
}

// describeFailure prefixes err with its classification and HTTP status.
func describeFailure(err error) string {
	kind := "permanent"
	switch s2errors.GetErrorType(err) {
	case s2errors.ErrorTypeTransient:
		kind = "transient"
	case s2errors.ErrorTypeDegraded:
		kind = "hub unavailable"
	}
	if code := s2errors.StatusCode(err); code != 0 {
		return fmt.Sprintf("%s (http %d): %v", kind, code, err)
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

func (c *Coordinator) record(ctx context.Context, item Item, state ledger.State, msg, runID string) {
	if c.recorder == nil {
		return
	}
	err := c.recorder.Record(ctx, ledger.Entry{
		Name:      item.Product.Name(),
		ProductID: item.Product.ID,
		State:     state,
		Message:   msg,
		RunID:     runID,
	})
	if err != nil {
		c.logger.Warn("Ledger update for %s failed: %v", item.Product.Name(), err)
	}
}

func stageOutcome(o Outcome) string {
	switch o {
	case OutcomeDownloaded:
		return observability.OutcomeDone
	case OutcomeExisting:
		return observability.OutcomeSkipped
	case OutcomeOffline:
		return observability.OutcomeOffline
	default:
		return observability.OutcomeFailed
	}
}
