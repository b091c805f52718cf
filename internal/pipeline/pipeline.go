package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"s2batch/internal/catalog"
	"s2batch/internal/composite"
	"s2batch/internal/dedup"
	"s2batch/internal/expand"
	"s2batch/internal/fetch"
	"s2batch/internal/ledger"
	"s2batch/internal/logging"
	"s2batch/internal/observability"
	"s2batch/internal/query"
)

// Stage names, used in diagnostics, metrics and spans.
const (
	StageQuery     = "query"
	StageDedup     = "dedup"
	StageFetch     = "fetch"
	StageExpand    = "expand"
	StageComposite = "composite"
)

// Steps selects which stages a run executes. Stages always run in
// query, dedup, fetch, expand, composite order.
type Steps struct {
	Query     bool
	Fetch     bool
	Expand    bool
	Composite bool
}

// Preset step sets for the CLI commands.
var (
	StepsQueryOnly = Steps{Query: true}
	StepsFetch     = Steps{Query: true, Fetch: true}
	StepsFull      = Steps{Query: true, Fetch: true, Expand: true, Composite: true}
	StepsComposite = Steps{Expand: true, Composite: true}
)

// Run executes steps for the session. The returned error is fatal: it means
// the run stopped early. Item-level failures are reported in the Report.
func Run(ctx context.Context, s *Session, steps Steps) (Report, error) {
	diag := &diagnostics{now: s.now}
	logger := logging.Multi(s.Logger, diag)
	ctx = observability.ContextWithRunID(ctx, s.RunID)
	ctx, span := s.Tracer.StartSpan(ctx, observability.SpanRun)

	report := Report{RunID: s.RunID, OutputDir: s.Config.OutputDir, Started: s.now()}
	err := run(ctx, s, steps, logger, diag, &report)
	if err != nil {
		diag.fatal(err)
		logger.Error("Run aborted: %v", err)
	}
	observability.EndSpan(span, err)

	report.Finished = s.now()
	report.Diagnostics = diag.snapshot()
	return report, err
}

func run(ctx context.Context, s *Session, steps Steps, logger logging.Logger, diag *diagnostics, report *Report) error {
	cfg := s.Config
	var products []catalog.Product

	if steps.Query {
		if s.Catalog == nil {
			return fmt.Errorf("query: no catalog configured")
		}
		diag.setStage(StageQuery)
		candidates, err := stage(ctx, s, StageQuery, observability.SpanStageQuery, func(ctx context.Context) (*catalog.CandidateSet, error) {
			return query.NewPlanner(s.Catalog, logger).Plan(ctx, cfg)
		})
		if err != nil {
			return err
		}
		report.Candidates = candidates.Len()

		diag.setStage(StageDedup)
		result, _ := stage(ctx, s, StageDedup, observability.SpanStageDedup, func(ctx context.Context) (dedup.Result, error) {
			return deduplicate(ctx, s, logger, candidates.Products()), nil
		})
		report.Kept, report.Culled = result.Kept, result.Culled
		products = result.Kept

		path, err := WriteMetadataCSV(cfg.OutputDir, MetadataCSVName(cfg), products)
		if err != nil {
			return err
		}
		report.MetadataCSV = path
		logger.Info("Generated csv with metadata from products returned by query")
	}

	if steps.Fetch {
		diag.setStage(StageFetch)
		var recorder fetch.Recorder
		if s.Ledger != nil {
			recorder = s.Ledger
		}
		coordinator := fetch.NewCoordinator(s.Catalog,
			fetch.WithLogger(logger), fetch.WithRecorder(recorder),
			fetch.WithMetrics(s.Metrics), fetch.WithTracer(s.Tracer))
		fetched, err := stage(ctx, s, StageFetch, observability.SpanStageFetch, func(ctx context.Context) (fetch.Report, error) {
			return coordinator.Fetch(ctx, products, fetch.Options{
				OutputDir:        cfg.OutputDir,
				Workers:          cfg.FetchWorkers,
				ContinueOnError:  cfg.ContinueOnError,
				TriggerRetrieval: cfg.TriggerRetrieval,
				RunID:            s.RunID,
			})
		})
		report.Fetch = fetched
		if err != nil {
			return err
		}
		if n := fetched.Count(fetch.OutcomeOffline); n > 0 {
			logger.Warn("%d products are offline. %s", n, fetch.OfflineHint)
		}
	}

	if steps.Expand {
		diag.setStage(StageExpand)
		archives, err := expand.Discover(cfg.OutputDir)
		if err != nil {
			return err
		}
		opts := []expand.Option{expand.WithLogger(logger), expand.WithMetrics(s.Metrics), expand.WithVerify(cfg.VerifyArchives)}
		if s.Ledger != nil {
			opts = append(opts, expand.WithRecorder(s.Ledger))
		}
		report.Expand, _ = stage(ctx, s, StageExpand, observability.SpanStageExpand, func(ctx context.Context) (expand.Report, error) {
			return expand.New(opts...).Expand(ctx, cfg.OutputDir, archives, s.RunID), nil
		})
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if steps.Composite && len(cfg.Bands) > 0 {
		if s.Stacker == nil {
			return fmt.Errorf("composite: no raster stacker configured")
		}
		diag.setStage(StageComposite)
		granules, err := composite.Discover(cfg.OutputDir)
		if err != nil {
			return err
		}
		opts := []composite.Option{composite.WithLogger(logger), composite.WithMetrics(s.Metrics), composite.WithTracer(s.Tracer)}
		if s.Ledger != nil {
			opts = append(opts, composite.WithRecorder(s.Ledger))
		}
		composited, err := stage(ctx, s, StageComposite, observability.SpanStageComposite, func(ctx context.Context) (composite.Report, error) {
			return composite.New(s.Stacker, opts...).Composite(ctx, granules, composite.Options{
				OutputDir:    cfg.OutputDir,
				Bands:        cfg.Bands,
				Order:        composite.Order(cfg.ChannelOrder),
				RasterExt:    cfg.RasterExt,
				CompositeExt: cfg.CompositeExt,
				Workers:      cfg.CompositeWorkers,
				RunID:        s.RunID,
			})
		})
		report.Composite = composited
		if err != nil {
			return err
		}
	}
	return nil
}

// stage runs fn inside a stage span.
func stage[T any](ctx context.Context, s *Session, name, spanName string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := s.Tracer.StartSpan(ctx, spanName, observability.StageAttrs(name)...)
	start := time.Now()
	out, err := fn(ctx)
	observability.EndSpan(span, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%s: %w", name, err)
	}
	s.Logger.Debug("Stage %s finished in %s", name, time.Since(start).Round(time.Millisecond))
	return out, err
}

func deduplicate(ctx context.Context, s *Session, logger logging.Logger, candidates []catalog.Product) dedup.Result {
	mode := dedup.ByDate
	if s.Config.TiledDedup() {
		mode = dedup.ByDateTile
	}
	result := dedup.Apply(candidates, dedup.Options{Mode: mode, LegacyTileOrder: s.Config.LegacyTileOrder})
	logger.Info("Number of products culled: %d", len(result.Culled))
	logger.Info("Final number of products to be downloaded: %d", len(result.Kept))

	if s.Ledger == nil {
		return result
	}
	for _, p := range result.Kept {
		recordProduct(ctx, s, logger, p, ledger.StateKept, "")
	}
	for _, p := range result.Culled {
		recordProduct(ctx, s, logger, p, ledger.StateCulled, "duplicate of key "+dedup.Key(p, mode))
	}
	return result
}

func recordProduct(ctx context.Context, s *Session, logger logging.Logger, p catalog.Product, state ledger.State, msg string) {
	err := s.Ledger.Record(ctx, ledger.Entry{Name: p.Name(), ProductID: p.ID, State: state, Message: msg, RunID: s.RunID})
	if err != nil {
		logger.Warn("Ledger update for %s failed: %v", p.Name(), err)
	}
}
