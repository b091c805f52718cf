// Package composite stacks selected band rasters of each expanded granule
// into one multi-band file. An existing output file is never rewritten.
package composite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"s2batch/internal/async"
	"s2batch/internal/bands"
	"s2batch/internal/ledger"
	"s2batch/internal/logging"
	"s2batch/internal/observability"
	"s2batch/internal/raster"

	"golang.org/x/sync/errgroup"
)

// RootPattern matches expanded Level-1C product directories.
const RootPattern = "S2?_MSIL1C*.SAFE"

// Order selects how channels are ordered in the output.
type Order string

const (
	// OrderSelection writes channels in band selection order and names the
	// file from that order.
	OrderSelection Order = "selection"
	// OrderLegacy writes channels in raster file name order and names the
	// file from the sorted selection.
	OrderLegacy Order = "legacy"
)

// Outcome is the per-granule result.
type Outcome string

const (
	OutcomeWritten Outcome = "written"
	OutcomeExists  Outcome = "exists"
	OutcomeFailed  Outcome = "failed"
)

// Granule is one GRANULE/<id> unit inside an expanded product.
type Granule struct {
	Product string // product directory name, with .SAFE
	ID      string
	ImgDir  string
}

// Options configures a compositing pass.
type Options struct {
	OutputDir    string
	Bands        bands.Selection
	Order        Order
	RasterExt    string
	CompositeExt string
	Workers      int
	RunID        string
}

// Item is the result for one granule.
type Item struct {
	Granule  Granule
	Output   string
	Channels []string
	Outcome  Outcome
	Err      error
}

// Report lists results in discovery order.
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

// Recorder stores per-granule state. *ledger.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Compositor writes composites through a raster.Stacker.
type Compositor struct {
	stacker  raster.Stacker
	logger   logging.Logger
	recorder Recorder
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
}

// Option customises a Compositor.
type Option func(*Compositor)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Compositor) { c.logger = logging.OrNop(logger) }
}

// WithRecorder records outcomes in a ledger.
func WithRecorder(r Recorder) Option {
	return func(c *Compositor) { c.recorder = r }
}

// WithMetrics records per-granule stage metrics.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(c *Compositor) { c.metrics = m }
}

// WithTracer wraps each granule in a span.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(c *Compositor) { c.tracer = tp }
}

// New returns a Compositor writing through stacker.
func New(stacker raster.Stacker, opts ...Option) *Compositor {
	c := &Compositor{stacker: stacker, logger: logging.NewComponentLogger("composite")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover lists the granules of every expanded product in outputDir.
func Discover(outputDir string) ([]Granule, error) {
	roots, err := filepath.Glob(filepath.Join(outputDir, RootPattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", RootPattern, err)
	}
	slices.Sort(roots)

	var granules []Granule
	for _, root := range roots {
		entries, err := os.ReadDir(filepath.Join(root, "GRANULE"))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read granules of %s: %w", filepath.Base(root), err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			granules = append(granules, Granule{
				Product: filepath.Base(root),
				ID:      entry.Name(),
				ImgDir:  filepath.Join(root, "GRANULE", entry.Name(), "IMG_DATA"),
			})
		}
	}
	return granules, nil
}

// OutputName returns the composite file name for a granule.
func OutputName(g Granule, sel bands.Selection, order Order, ext string) (string, error) {
	id, err := ParseProductName(g.Product)
	if err != nil {
		return "", err
	}
	if tile := GranuleTile(g.ID); tile != "" {
		id.Tile = tile
	}
	bandString, err := BandString(sel, order)
	if err != nil {
		return "", err
	}
	return id.Name(bandString, ext), nil
}

// BandString names a selection under order.
func BandString(sel bands.Selection, order Order) (string, error) {
	if order == OrderLegacy {
		return bands.Canonical(sel.Numbers())
	}
	return bands.Compact(sel.Numbers())
}

// Composite processes granules and returns a report in input order. A
// failure in one granule does not stop the others; only context
// cancellation ends the pass early.
func (c *Compositor) Composite(ctx context.Context, granules []Granule, opts Options) (Report, error) {
	if opts.OutputDir == "" {
		return Report{}, fmt.Errorf("composite: output directory is required")
	}
	if len(opts.Bands) == 0 {
		return Report{}, bands.ErrEmpty
	}
	if opts.RasterExt == "" {
		opts.RasterExt = ".jp2"
	}
	if opts.CompositeExt == "" {
		opts.CompositeExt = ".img"
	}
	if opts.Order == "" {
		opts.Order = OrderSelection
	}
	workers := max(opts.Workers, 1)

	items := make([]Item, len(granules))
	var g errgroup.Group
	g.SetLimit(workers)
	var mu sync.Mutex
	for i, granule := range granules {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			item := c.compositeOne(ctx, granule, opts)
			mu.Lock()
			items[i] = item
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	report := Report{Items: items[:0]}
	for _, item := range items {
		if item.Outcome != "" {
			report.Items = append(report.Items, item)
		}
	}
	c.logger.Info("Composite complete: %d written, %d already present, %d failed",
		report.Count(OutcomeWritten), report.Count(OutcomeExists), report.Count(OutcomeFailed))
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

func (c *Compositor) compositeOne(ctx context.Context, g Granule, opts Options) (item Item) {
	start := time.Now()
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanGranuleStack, observability.ProductAttrs(g.ID, g.Product)...)
	item = Item{Granule: g}
	defer func() {
		c.metrics.RecordStageItem(ctx, "composite", stageOutcome(item.Outcome), time.Since(start))
		observability.EndSpan(span, item.Err)
	}()
	defer func() {
		if r := recover(); r != nil {
			item = c.fail(ctx, item, opts, async.PanicError(c.logger, "composite "+g.ID, r))
		}
	}()

	name, err := OutputName(g, opts.Bands, opts.Order, opts.CompositeExt)
	if err != nil {
		return c.fail(ctx, item, opts, err)
	}
	item.Output = filepath.Join(opts.OutputDir, name)
	if _, err := os.Stat(item.Output); err == nil {
		item.Outcome = OutcomeExists
		c.logger.Info("%s already exists", name)
		return item
	}

	channels, err := c.match(g, opts)
	if err != nil {
		return c.fail(ctx, item, opts, err)
	}
	item.Channels = channels

	if err := c.write(ctx, channels, item.Output); err != nil {
		return c.fail(ctx, item, opts, err)
	}
	item.Outcome = OutcomeWritten
	c.logger.Info("Wrote %s", name)
	c.record(ctx, item, ledger.StateComposited, "", opts.RunID)
	return item
}

// match returns the rasters to stack in channel order.
func (c *Compositor) match(g Granule, opts Options) ([]string, error) {
	entries, err := os.ReadDir(g.ImgDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", g.ImgDir, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	slices.Sort(files)

	var channels []string
	if opts.Order == OrderLegacy {
		for _, file := range files {
			for _, token := range opts.Bands {
				if MatchesBand(file, token, opts.RasterExt) {
					channels = append(channels, filepath.Join(g.ImgDir, file))
					break
				}
			}
		}
		if len(channels) == 0 {
			return nil, fmt.Errorf("no rasters match bands %s in %s", opts.Bands, g.ID)
		}
		return channels, nil
	}

	var missing []string
	for _, token := range opts.Bands {
		idx := slices.IndexFunc(files, func(file string) bool { return MatchesBand(file, token, opts.RasterExt) })
		if idx < 0 {
			missing = append(missing, token)
			continue
		}
		channels = append(channels, filepath.Join(g.ImgDir, files[idx]))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("bands %s missing in %s", strings.Join(missing, ";"), g.ID)
	}
	return channels, nil
}

// write stacks into a private directory under the output file's final name,
// so drivers that derive sidecar names from it (HFA .ige spill files,
// .aux.xml) name them correctly. Sidecars are moved first and the raster
// last.
func (c *Compositor) write(ctx context.Context, channels []string, out string) error {
	dir, err := os.MkdirTemp(filepath.Dir(out), ".partial-")
	if err != nil {
		return fmt.Errorf("stage %s: %w", filepath.Base(out), err)
	}
	defer os.RemoveAll(dir)

	staged := filepath.Join(dir, filepath.Base(out))
	stack := async.Safe(c.logger, "stack "+filepath.Base(out), func() error {
		return c.stacker.Stack(ctx, channels, staged)
	})
	if err := stack(); err != nil {
		return fmt.Errorf("stack %s: %w", filepath.Base(out), err)
	}
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("stack %s: no output written", filepath.Base(out))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read staged %s: %w", filepath.Base(out), err)
	}
	for _, entry := range entries {
		if entry.Name() == filepath.Base(out) {
			continue
		}
		if err := os.Rename(filepath.Join(dir, entry.Name()), filepath.Join(filepath.Dir(out), entry.Name())); err != nil {
			return fmt.Errorf("move %s: %w", entry.Name(), err)
		}
	}
	if err := os.Rename(staged, out); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(out), err)
	}
	return nil
}

func (c *Compositor) fail(ctx context.Context, item Item, opts Options, err error) Item {
	item.Outcome = OutcomeFailed
	item.Err = err
	c.logger.Error("Compositing %s failed: %v", item.Granule.ID, err)
	c.record(context.WithoutCancel(ctx), item, ledger.StateFailed, err.Error(), opts.RunID)
	return item
}

func (c *Compositor) record(ctx context.Context, item Item, state ledger.State, msg, runID string) {
	if c.recorder == nil {
		return
	}
	name := item.Granule.Product + "/" + item.Granule.ID
	if err := c.recorder.Record(ctx, ledger.Entry{Name: name, State: state, Message: msg, RunID: runID}); err != nil {
		c.logger.Warn("Ledger update for %s failed: %v", name, err)
	}
}

func stageOutcome(o Outcome) string {
	switch o {
	case OutcomeWritten:
		return observability.OutcomeDone
	case OutcomeExists:
		return observability.OutcomeSkipped
	default:
		return observability.OutcomeFailed
	}
}
