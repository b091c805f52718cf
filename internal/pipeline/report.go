package pipeline

import (
	"errors"
	"fmt"
	"time"

	"s2batch/internal/catalog"
	"s2batch/internal/composite"
	"s2batch/internal/config"
	"s2batch/internal/expand"
	"s2batch/internal/fetch"

	"github.com/dustin/go-humanize"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFatal        = 1
	ExitValidation   = 2
	ExitItemFailures = 3
)

// Report summarises one run.
type Report struct {
	RunID     string
	OutputDir string
	Started   time.Time
	Finished  time.Time

	Candidates  int
	Kept        []catalog.Product
	Culled      []catalog.Product
	MetadataCSV string

	Fetch     fetch.Report
	Expand    expand.Report
	Composite composite.Report

	Diagnostics []Diagnostic
}

// KeptBytes is the total catalog size of the kept products.
func (r Report) KeptBytes() uint64 {
	var total uint64
	for _, p := range r.Kept {
		total += p.SizeBytes
	}
	return total
}

// DownloadedBytes is the catalog size of the products downloaded this run.
func (r Report) DownloadedBytes() uint64 {
	var total uint64
	for _, item := range r.Fetch.Items {
		if item.Outcome == fetch.OutcomeDownloaded {
			total += item.Product.SizeBytes
		}
	}
	return total
}

// ItemProblems counts items that need another run: offline or failed
// products, failed archives and failed granules.
func (r Report) ItemProblems() int {
	return r.Fetch.Count(fetch.OutcomeOffline) + r.Fetch.Count(fetch.OutcomeFailed) +
		r.Expand.Count(expand.OutcomeFailed) + r.Composite.Count(composite.OutcomeFailed)
}

// Warnings returns diagnostics at warning severity or above.
func (r Report) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity != SeverityInfo {
			out = append(out, d)
		}
	}
	return out
}

// ExitCode classifies a finished run. err is the error Run returned, or a
// configuration error raised before it.
func ExitCode(r Report, err error) int {
	var verrs config.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return ExitValidation
	case err != nil:
		return ExitFatal
	case r.ItemProblems() > 0:
		return ExitItemFailures
	default:
		return ExitOK
	}
}

// Summary renders the report as short human-readable lines.
func (r Report) Summary() []string {
	var lines []string
	if r.Candidates > 0 || len(r.Kept) > 0 {
		lines = append(lines, fmt.Sprintf("Query: %d candidates, %d kept (%s), %d culled",
			r.Candidates, len(r.Kept), humanize.Bytes(r.KeptBytes()), len(r.Culled)))
	}
	if r.MetadataCSV != "" {
		lines = append(lines, "Metadata: "+r.MetadataCSV)
	}
	if len(r.Fetch.Items) > 0 {
		lines = append(lines, fmt.Sprintf("Fetch: %d downloaded (%s), %d already present, %d offline, %d failed (%d retryable), %d not attempted",
			r.Fetch.Count(fetch.OutcomeDownloaded), humanize.Bytes(r.DownloadedBytes()),
			r.Fetch.Count(fetch.OutcomeExisting), r.Fetch.Count(fetch.OutcomeOffline),
			r.Fetch.Count(fetch.OutcomeFailed), r.Fetch.Retryable(), r.Fetch.Count(fetch.OutcomeNotAttempted)))
	}
	if len(r.Expand.Items) > 0 {
		lines = append(lines, fmt.Sprintf("Expand: %d expanded, %d already complete, %d assumed complete, %d failed",
			r.Expand.Count(expand.OutcomeExpanded), r.Expand.Count(expand.OutcomeComplete),
			r.Expand.Count(expand.OutcomeAssumed), r.Expand.Count(expand.OutcomeFailed)))
	}
	if len(r.Composite.Items) > 0 {
		lines = append(lines, fmt.Sprintf("Composite: %d written, %d already present, %d failed",
			r.Composite.Count(composite.OutcomeWritten), r.Composite.Count(composite.OutcomeExists),
			r.Composite.Count(composite.OutcomeFailed)))
	}
	if !r.Finished.IsZero() {
		lines = append(lines, fmt.Sprintf("Finished in %s (run %s)", r.Finished.Sub(r.Started).Round(time.Second), r.RunID))
	}
	return lines
}
