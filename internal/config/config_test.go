package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2batch/internal/bands"
)

var testNow = time.Date(2020, 5, 6, 12, 0, 0, 0, time.UTC)

func validInput() Input {
	return Input{
		OutputDir:   "/data/s2",
		Begin:       "20200419",
		End:         "NOW",
		CloudMin:    "0",
		CloudMax:    "30",
		Tiles:       "11SQS;T11SPS",
		Credentials: Credentials{Username: "alice", Password: "secret"},
	}
}

func noAOI(string) (string, error) { return "", errors.New("unexpected AOI load") }

func TestBuildTiles(t *testing.T) {
	cfg, err := Build(validInput(), ModeAcquire, noAOI, testNow)
	require.NoError(t, err)

	assert.Equal(t, LocatorTiles, cfg.Locator.Kind)
	assert.Equal(t, []string{"11SQS", "11SPS"}, cfg.Locator.Tiles)
	assert.True(t, cfg.TiledDedup())
	assert.True(t, cfg.End.Now)
	assert.Equal(t, 30.0, cfg.CloudMax)
	assert.Nil(t, cfg.Bands)
	assert.Equal(t, ChannelOrderSelection, cfg.ChannelOrder)
	assert.Equal(t, ".jp2", cfg.RasterExt)
	assert.Equal(t, ".img", cfg.CompositeExt)
	assert.Equal(t, 1, cfg.FetchWorkers)
}

func TestBuildTileOrbit(t *testing.T) {
	in := validInput()
	in.Tiles = ""
	in.Tile = "t11sqs"
	in.Orbit = "R070"
	cfg, err := Build(in, ModeAcquire, noAOI, testNow)
	require.NoError(t, err)
	assert.Equal(t, LocatorTileOrbit, cfg.Locator.Kind)
	assert.Equal(t, []string{"11SQS"}, cfg.Locator.Tiles)
	assert.Equal(t, 70, cfg.Locator.Orbit)
}

func TestBuildAOI(t *testing.T) {
	in := validInput()
	in.Tiles = ""
	in.AOI = "field.geojson"
	cfg, err := Build(in, ModeAcquire, func(arg string) (string, error) {
		assert.Equal(t, "field.geojson", arg)
		return "POLYGON((0 0,1 0,1 1,0 0))", nil
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, LocatorAOI, cfg.Locator.Kind)
	assert.False(t, cfg.TiledDedup())
}

func TestBuildCollectsAllErrors(t *testing.T) {
	in := Input{
		Begin:        "20161201",
		End:          "2020-01-01",
		CloudMin:     "50",
		CloudMax:     "120",
		Tiles:        "11SQS",
		Tile:         "11SPS",
		Bands:        "02;8A",
		ChannelOrder: "random",
		FetchWorkers: 99,
	}
	_, err := Build(in, ModeAcquire, noAOI, testNow)
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	for _, field := range []string{"output", "end", "cloud_max", "locator", "bands", "channel_order", "workers", "credentials"} {
		assert.True(t, verrs.Has(field), "expected error for %s: %v", field, err)
	}
}

func TestBuildDateRules(t *testing.T) {
	in := validInput()
	in.Begin = "20161205"
	_, err := Build(in, ModeAcquire, noAOI, testNow)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("begin"))

	in = validInput()
	in.Begin = "20200420"
	in.End = "20200419"
	_, err = Build(in, ModeAcquire, noAOI, testNow)
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("end"))

	in = validInput()
	in.Begin = "20161206"
	in.End = ""
	cfg, err := Build(in, ModeAcquire, noAOI, testNow)
	require.NoError(t, err)
	assert.True(t, cfg.End.Now)
}

func TestBuildOrbitWithoutTile(t *testing.T) {
	in := validInput()
	in.Orbit = "70"
	_, err := Build(in, ModeAcquire, noAOI, testNow)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("orbit"))
}

func TestBuildCompositeMode(t *testing.T) {
	cfg, err := Build(Input{OutputDir: "/data", Bands: "04;03;02", ChannelOrder: "legacy", CompositeExt: "tif"}, ModeComposite, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, bands.Selection{"04", "03", "02"}, cfg.Bands)
	assert.Equal(t, ChannelOrderLegacy, cfg.ChannelOrder)
	assert.Equal(t, ".tif", cfg.CompositeExt)

	_, err = Build(Input{OutputDir: "/data"}, ModeComposite, nil, testNow)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("bands"))
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("S2BATCH_USERNAME", "bob")
	t.Setenv("S2BATCH_PASSWORD", "pw")
	creds, err := CredentialsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "bob", Password: "pw"}, creds)
	assert.True(t, creds.Complete())
}
