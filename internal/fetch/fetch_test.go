package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"s2batch/internal/catalog"
	s2errors "s2batch/internal/errors"
	"s2batch/internal/ledger"
	"s2batch/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCatalog struct {
	mu        sync.Mutex
	calls     int
	offline   map[string]bool
	failing   map[string]error
	crash     map[string]bool
	refuse    error
	retrieved []string
}

func (f *fakeCatalog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCatalog) Query(context.Context, catalog.Filter) ([]catalog.Product, error) {
	return nil, errors.New("not used")
}

func (f *fakeCatalog) Status(_ context.Context, id string) (catalog.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failing[id]; err != nil {
		return catalog.Status{}, err
	}
	if f.offline[id] {
		return catalog.Status{Availability: catalog.Offline}, nil
	}
	return catalog.Status{Availability: catalog.Online, Checksum: "abc"}, nil
}

func (f *fakeCatalog) Download(_ context.Context, p catalog.Product, destDir string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.crash[p.ID] {
		panic("transport crashed")
	}
	if p.Checksum != "abc" {
		return "", fmt.Errorf("checksum not propagated: %q", p.Checksum)
	}
	path := filepath.Join(destDir, p.ArchiveName())
	return path, os.WriteFile(path, []byte("zip:"+p.ID), 0o644)
}

func (f *fakeCatalog) TriggerRetrieval(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retrieved = append(f.retrieved, id)
	return f.refuse
}

type memRecorder struct {
	mu      sync.Mutex
	entries map[string]ledger.Entry
}

func (r *memRecorder) Record(_ context.Context, e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = map[string]ledger.Entry{}
	}
	r.entries[e.Name] = e
	return nil
}

func products(ids ...string) []catalog.Product {
	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog.Product{ID: id, Title: "S2A_MSIL1C_" + id})
	}
	return out
}

func TestFetchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{}
	rec := &memRecorder{}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()), WithRecorder(rec))

	report, err := coord.Fetch(context.Background(), products("a", "b"), Options{OutputDir: dir, RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(OutcomeDownloaded))
	assert.Equal(t, 4, cat.count())
	assert.Len(t, report.Archives(), 2)
	assert.Equal(t, ledger.StateDownloaded, rec.entries["S2A_MSIL1C_a"].State)
	assert.Equal(t, "r1", rec.entries["S2A_MSIL1C_a"].RunID)

	before := cat.count()
	report, err = coord.Fetch(context.Background(), products("a", "b"), Options{OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(OutcomeExisting))
	assert.Equal(t, before, cat.count(), "second pass must not touch the catalog")
}

func TestFetchOfflineIsSkippedAndRecorded(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{offline: map[string]bool{"b": true}}
	rec := &memRecorder{}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()), WithRecorder(rec))

	report, err := coord.Fetch(context.Background(), products("a", "b", "c"), Options{OutputDir: dir, TriggerRetrieval: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(OutcomeDownloaded))
	assert.Equal(t, 1, report.Count(OutcomeOffline))
	assert.Equal(t, OutcomeOffline, report.Items[1].Outcome)
	assert.Equal(t, []string{"b"}, cat.retrieved)

	entry := rec.entries["S2A_MSIL1C_b"]
	assert.Equal(t, ledger.StateOffline, entry.State)
	assert.Contains(t, entry.Message, "re-run in 24 hours")

	_, statErr := os.Stat(filepath.Join(dir, "S2A_MSIL1C_b.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchAbortsOnTransportErrorByDefault(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{failing: map[string]error{"b": errors.New("connection reset by peer")}}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()))

	report, err := coord.Fetch(context.Background(), products("a", "b", "c"), Options{OutputDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S2A_MSIL1C_b")
	assert.Equal(t, OutcomeDownloaded, report.Items[0].Outcome)
	assert.Equal(t, OutcomeFailed, report.Items[1].Outcome)
	assert.Equal(t, OutcomeNotAttempted, report.Items[2].Outcome)
}

func TestFetchContinueOnError(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{failing: map[string]error{"b": errors.New("connection reset by peer")}}
	rec := &memRecorder{}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()), WithRecorder(rec))

	report, err := coord.Fetch(context.Background(), products("a", "b", "c"), Options{OutputDir: dir, ContinueOnError: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(OutcomeDownloaded))
	assert.Equal(t, 1, report.Count(OutcomeFailed))
	assert.Equal(t, ledger.StateFailed, rec.entries["S2A_MSIL1C_b"].State)
}

func TestFetchPanicIsAnItemFailure(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{crash: map[string]bool{"b": true}}
	rec := &memRecorder{}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()), WithRecorder(rec))

	report, err := coord.Fetch(context.Background(), products("a", "b", "c"), Options{OutputDir: dir, ContinueOnError: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(OutcomeDownloaded))
	require.Equal(t, OutcomeFailed, report.Items[1].Outcome)
	assert.ErrorContains(t, report.Items[1].Err, "transport crashed")
	assert.Equal(t, ledger.StateFailed, rec.entries["S2A_MSIL1C_b"].State)

	_, err = NewCoordinator(&fakeCatalog{crash: map[string]bool{"x": true}}, WithLogger(logging.Nop())).
		Fetch(context.Background(), products("x"), Options{OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "transport crashed")
}

func TestFetchClassifiesFailures(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{failing: map[string]error{
		"busy": s2errors.FromHTTPStatus(http.StatusServiceUnavailable, 0, errors.New("hub overloaded")),
		"gone": &s2errors.PermanentError{Err: fmt.Errorf("hub: %w", catalog.ErrNotFound), StatusCode: http.StatusNotFound},
	}}
	rec := &memRecorder{}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()), WithRecorder(rec))

	report, err := coord.Fetch(context.Background(), products("busy", "gone"), Options{OutputDir: dir, ContinueOnError: true})
	require.NoError(t, err)
	assert.True(t, report.Items[0].Retryable)
	assert.False(t, report.Items[1].Retryable)
	assert.Equal(t, 1, report.Retryable())
	assert.True(t, strings.HasPrefix(rec.entries["S2A_MSIL1C_busy"].Message, "transient (http 503): "))
	assert.True(t, strings.HasPrefix(rec.entries["S2A_MSIL1C_gone"].Message, "permanent (http 404): "))
}

func TestFetchStopsRetrievalRequestsAfterRepeatedRefusals(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{
		offline: map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": true},
		refuse:  errors.New("quota exceeded"),
	}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()))

	report, err := coord.Fetch(context.Background(), products("a", "b", "c", "d", "e"), Options{OutputDir: dir, TriggerRetrieval: true})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Count(OutcomeOffline))
	assert.Len(t, cat.retrieved, RetrievalFailureLimit)

	// A new pass starts with a closed breaker.
	cat.refuse = nil
	_, err = coord.Fetch(context.Background(), products("d"), Options{OutputDir: dir, TriggerRetrieval: true})
	require.NoError(t, err)
	assert.Len(t, cat.retrieved, RetrievalFailureLimit+1)
}

func TestFetchUnauthorizedAlwaysAborts(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{failing: map[string]error{"a": fmt.Errorf("hub: %w", catalog.ErrUnauthorized)}}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()))

	_, err := coord.Fetch(context.Background(), products("a", "b"), Options{OutputDir: dir, ContinueOnError: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrUnauthorized)
}

func TestFetchParallelWorkers(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{}
	coord := NewCoordinator(cat, WithLogger(logging.Nop()))

	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		ids = append(ids, fmt.Sprintf("p%02d", i))
	}
	report, err := coord.Fetch(context.Background(), products(ids...), Options{OutputDir: dir, Workers: 4})
	require.NoError(t, err)
	assert.Equal(t, 12, report.Count(OutcomeDownloaded))
	for i, item := range report.Items {
		assert.Equal(t, ids[i], item.Product.ID)
	}
}

func TestFetchRequiresOutputDir(t *testing.T) {
	_, err := NewCoordinator(&fakeCatalog{}, WithLogger(logging.Nop())).Fetch(context.Background(), nil, Options{})
	assert.Error(t, err)
}
