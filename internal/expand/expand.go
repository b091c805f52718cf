// Package expand unpacks downloaded product archives into the output
// directory. A marker is written before extraction starts and marked complete
// when it ends, so a directory left behind by an interrupted pass is
// extracted again. Directories with no marker at all predate the marker and
// are taken as complete.
package expand

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"s2batch/internal/ledger"
	"s2batch/internal/logging"
	"s2batch/internal/observability"

	"github.com/klauspost/compress/zip"
)

// Archive name patterns: Copernicus hub downloads and USGS EarthExplorer downloads.
var ArchivePatterns = []string{"S2?_MSIL1C*.zip", "L1C_T*.zip"}

// Outcome is the per-archive result.
type Outcome string

const (
	OutcomeExpanded Outcome = "expanded"
	// OutcomeComplete means a matching marker was found.
	OutcomeComplete Outcome = "complete"
	// OutcomeAssumed means the root directory exists without a marker and
	// was taken as complete.
	OutcomeAssumed Outcome = "assumed"
	OutcomeFailed  Outcome = "failed"
)

// Item is the result for one archive.
type Item struct {
	Archive string
	Root    string
	Outcome Outcome
	Err     error
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

// Recorder stores per-archive state. *ledger.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Expander extracts archives.
type Expander struct {
	logger   logging.Logger
	recorder Recorder
	metrics  *observability.MetricsCollector
	verify   bool
	now      func() time.Time
}

// Option customises an Expander.
type Option func(*Expander)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Expander) { e.logger = logging.OrNop(logger) }
}

// WithRecorder records outcomes in a ledger.
func WithRecorder(r Recorder) Option {
	return func(e *Expander) { e.recorder = r }
}

// WithMetrics records per-archive stage metrics.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(e *Expander) { e.metrics = m }
}

// WithVerify hashes each archive and compares it with the marker digest even
// when size and mtime match.
func WithVerify(verify bool) Option {
	return func(e *Expander) { e.verify = verify }
}

// New returns an Expander.
func New(opts ...Option) *Expander {
	e := &Expander{logger: logging.NewComponentLogger("expand"), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover lists archives in outputDir matching ArchivePatterns, sorted by name.
func Discover(outputDir string) ([]string, error) {
	var archives []string
	for _, pattern := range ArchivePatterns {
		matches, err := filepath.Glob(filepath.Join(outputDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		archives = append(archives, matches...)
	}
	slices.Sort(archives)
	return slices.Compact(archives), nil
}

// ExpectedRoot is the directory an archive is expected to unpack to.
func ExpectedRoot(archive string) string {
	return strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive)) + ".SAFE"
}

// Expand extracts each archive into outputDir. Failures are reported per
// item; the loop always continues. Only context cancellation stops it early.
func (e *Expander) Expand(ctx context.Context, outputDir string, archives []string, runID string) Report {
	report := Report{Items: make([]Item, 0, len(archives))}
	for _, archive := range archives {
		if ctx.Err() != nil {
			break
		}
		start := e.now()
		item := e.expandOne(ctx, outputDir, archive, runID)
		report.Items = append(report.Items, item)
		e.metrics.RecordStageItem(ctx, "expand", stageOutcome(item.Outcome), e.now().Sub(start))

		switch item.Outcome {
		case OutcomeExpanded:
			e.record(ctx, item, ledger.StateExpanded, "", runID)
		case OutcomeFailed:
			e.logger.Error("Expanding %s failed: %v", filepath.Base(archive), item.Err)
			e.record(ctx, item, ledger.StateFailed, item.Err.Error(), runID)
		}
	}
	e.logger.Info("Expand complete: %d expanded, %d already complete, %d assumed complete, %d failed",
		report.Count(OutcomeExpanded), report.Count(OutcomeComplete), report.Count(OutcomeAssumed), report.Count(OutcomeFailed))
	return report
}

func (e *Expander) expandOne(ctx context.Context, outputDir, archive, runID string) Item {
	item := Item{Archive: archive, Root: filepath.Join(outputDir, ExpectedRoot(archive))}
	base := filepath.Base(archive)

	info, err := os.Stat(archive)
	if err != nil {
		item.Outcome, item.Err = OutcomeFailed, err
		return item
	}

	markerPath := MarkerPath(outputDir, archive)
	marker, found, err := readMarker(markerPath)
	if err != nil {
		e.logger.Warn("Unreadable marker for %s: %v", base, err)
		marker, found = Marker{}, true
	}

	var digest string
	switch {
	case !found && dirExists(item.Root):
		item.Outcome = OutcomeAssumed
		e.logger.Warn("%s exists without a completion marker; assuming it is complete. Delete it to force a fresh extraction.",
			filepath.Base(item.Root))
		return item
	case found && !marker.complete():
		e.logger.Warn("A previous extraction of %s did not finish; extracting again", base)
	case found && marker.matches(info) && !e.verify:
		item.Outcome = OutcomeComplete
		e.logger.Info("%s already expanded", base)
		return item
	case found && marker.Size == info.Size():
		// Same size: hash to decide whether the content changed.
		if digest, err = fileDigest(archive); err != nil {
			item.Outcome, item.Err = OutcomeFailed, fmt.Errorf("fingerprint archive: %w", err)
			return item
		}
		if digest == marker.Digest {
			if !marker.matches(info) {
				marker.ModTime = markerTime(info)
				if err := writeMarker(markerPath, marker); err != nil {
					e.logger.Warn("Refreshing marker for %s failed: %v", base, err)
				}
			}
			item.Outcome = OutcomeComplete
			e.logger.Info("%s already expanded (digest verified)", base)
			return item
		}
		e.logger.Warn("%s changed since it was expanded; extracting again", base)
	case found:
		e.logger.Warn("%s changed since it was expanded; extracting again", base)
	}

	if digest == "" {
		if digest, err = fileDigest(archive); err != nil {
			item.Outcome, item.Err = OutcomeFailed, fmt.Errorf("fingerprint archive: %w", err)
			return item
		}
	}
	pending := Marker{
		Archive: base,
		State:   MarkerExtracting,
		Size:    info.Size(),
		ModTime: markerTime(info),
		Digest:  digest,
		RunID:   runID,
	}
	if err := writeMarker(markerPath, pending); err != nil {
		item.Outcome, item.Err = OutcomeFailed, err
		return item
	}

	roots, err := extract(ctx, archive, outputDir)
	if err != nil {
		item.Outcome, item.Err = OutcomeFailed, err
		return item
	}
	if len(roots) > 0 && !slices.Contains(roots, filepath.Base(item.Root)) {
		item.Root = filepath.Join(outputDir, roots[0])
	}

	done := pending
	done.State = MarkerComplete
	done.Roots = roots
	done.Completed = e.now().UTC()
	if err := writeMarker(markerPath, done); err != nil {
		item.Outcome, item.Err = OutcomeFailed, err
		return item
	}

	item.Outcome = OutcomeExpanded
	e.logger.Info("Expanded %s", base)
	return item
}

// extract unpacks every entry of archive under dest and returns the sorted
// top-level names it created. Entries escaping dest are rejected.
func extract(ctx context.Context, archive, dest string) ([]string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	cleanDest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	roots := map[string]struct{}{}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target, err := safeJoin(cleanDest, f.Name)
		if err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(cleanDest, target)
		if top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]; top != "" && top != "." {
			roots[top] = struct{}{}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}

	out := make([]string, 0, len(roots))
	for root := range roots {
		out = append(out, root)
	}
	slices.Sort(out)
	return out, nil
}

func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes the output directory", name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (e *Expander) record(ctx context.Context, item Item, state ledger.State, msg, runID string) {
	if e.recorder == nil {
		return
	}
	name := strings.TrimSuffix(filepath.Base(item.Archive), filepath.Ext(item.Archive))
	if err := e.recorder.Record(ctx, ledger.Entry{Name: name, State: state, Message: msg, RunID: runID}); err != nil {
		e.logger.Warn("Ledger update for %s failed: %v", name, err)
	}
}

func stageOutcome(o Outcome) string {
	switch o {
	case OutcomeExpanded:
		return observability.OutcomeDone
	case OutcomeComplete, OutcomeAssumed:
		return observability.OutcomeSkipped
	default:
		return observability.OutcomeFailed
	}
}
