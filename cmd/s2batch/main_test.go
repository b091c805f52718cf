package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2batch/internal/catalog"
	"s2batch/internal/config"
	"s2batch/internal/ledger"
	"s2batch/internal/pipeline"
)

type queryOnlyCatalog struct {
	products []catalog.Product
	queries  int
}

func (c *queryOnlyCatalog) Query(context.Context, catalog.Filter) ([]catalog.Product, error) {
	c.queries++
	return c.products, nil
}

func (c *queryOnlyCatalog) Status(context.Context, string) (catalog.Status, error) {
	return catalog.Status{}, errors.New("not used")
}

func (c *queryOnlyCatalog) Download(context.Context, catalog.Product, string) (string, error) {
	return "", errors.New("not used")
}

func (c *queryOnlyCatalog) TriggerRetrieval(context.Context, string) error { return nil }

func testApp(t *testing.T, cat catalog.Catalog) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	a := newApp()
	a.stdout, a.stderr = stdout, stderr
	a.isTTY = func() bool { return false }
	a.newCatalog = func(config.Config, *obsStack) (catalog.Catalog, error) { return cat, nil }
	a.now = func() time.Time { return time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC) }
	return a, stdout, stderr
}

func execute(a *app, args ...string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.Execute()
}

func TestBandsCommand(t *testing.T) {
	a, stdout, _ := testApp(t, nil)
	require.NoError(t, execute(a, "bands", "08;02;03;04"))
	assert.Contains(t, stdout.String(), "selection  B8_2-4")
	assert.Contains(t, stdout.String(), "legacy     B2-4_8")
}

func TestBandsCommandRejectsBadToken(t *testing.T) {
	a, _, _ := testApp(t, nil)
	err := execute(a, "bands", "2;3")
	var exitErr *ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestQueryValidationErrorsExitTwo(t *testing.T) {
	t.Setenv("S2BATCH_USERNAME", "")
	t.Setenv("S2BATCH_PASSWORD", "")
	cat := &queryOnlyCatalog{}
	a, _, stderr := testApp(t, cat)

	err := execute(a, "query", "--output", t.TempDir(), "--begin", "20150101", "--cloud-max", "130")

	var exitErr *ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, pipeline.ExitValidation, exitErr.Code)
	assert.Contains(t, stderr.String(), "begin")
	assert.Contains(t, stderr.String(), "cloud_max")
	assert.Contains(t, stderr.String(), "credentials")
	assert.Zero(t, cat.queries)
}

func TestQueryCommandWritesMetadata(t *testing.T) {
	t.Setenv("S2BATCH_USERNAME", "user")
	t.Setenv("S2BATCH_PASSWORD", "secret")
	out := t.TempDir()
	cat := &queryOnlyCatalog{products: []catalog.Product{{
		ID:        "uuid-1",
		Title:     "S2A_MSIL1C_20200419T182911_N0209_R070_T11SQS_20200419T215406",
		Acquired:  time.Date(2020, 4, 19, 18, 29, 11, 0, time.UTC),
		Tile:      "11SQS",
		SizeBytes: 790_520_000,
	}}}
	a, stdout, _ := testApp(t, cat)

	err := execute(a, "query", "--output", out, "--begin", "20200401", "--end", "20200430", "--cloud-max", "30", "--tiles", "11SQS")
	require.NoError(t, err)

	assert.Equal(t, 1, cat.queries)
	assert.Contains(t, stdout.String(), "S2A_MSIL1C_20200419T182911_N0209_R070_T11SQS_20200419T215406")
	assert.Contains(t, stdout.String(), "791 MB")
	assert.FileExists(t, filepath.Join(out, "Sentinel-2_Level-1C_Query_T11SQS_20200401-20200430_Clouds_0-30_Metadata.csv"))
	assert.FileExists(t, ledger.DefaultPath(out))
}

func TestResolveCredentialsPromptsOnTerminal(t *testing.T) {
	t.Setenv("S2BATCH_USERNAME", "user")
	t.Setenv("S2BATCH_PASSWORD", "")
	a, _, _ := testApp(t, nil)
	a.isTTY = func() bool { return true }
	var masked []bool
	a.prompt = func(label string, mask bool) (string, error) {
		masked = append(masked, mask)
		return "secret", nil
	}

	creds, err := a.resolveCredentials()
	require.NoError(t, err)
	assert.Equal(t, config.Credentials{Username: "user", Password: "secret"}, creds)
	assert.Equal(t, []bool{true}, masked)
}

func TestPendingListsOfflineProducts(t *testing.T) {
	out := t.TempDir()
	store, err := ledger.Open(ledger.DefaultPath(out))
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), ledger.Entry{
		Name:  "S2A_MSIL1C_20200419T182911_N0209_R070_T11SQS_20200419T215406",
		State: ledger.StateOffline,
	}))
	require.NoError(t, store.Close())

	a, stdout, _ := testApp(t, nil)
	require.NoError(t, execute(a, "pending", "--output", out))
	assert.Contains(t, stdout.String(), "offline")
	assert.Contains(t, stdout.String(), "S2A_MSIL1C_20200419T182911_N0209_R070_T11SQS_20200419T215406")
}

func TestPendingWithoutLedger(t *testing.T) {
	out := t.TempDir()
	a, stdout, _ := testApp(t, nil)
	require.NoError(t, execute(a, "pending", "--output", out))
	assert.Contains(t, stdout.String(), "No runs recorded")
	_, err := os.Stat(ledger.DefaultPath(out))
	assert.True(t, os.IsNotExist(err))
}
