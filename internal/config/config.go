// Package config builds the typed, validated configuration for one pipeline
// run from loosely typed caller input.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"s2batch/internal/bands"
	"s2batch/internal/catalog"
)

// Mode selects which inputs a command requires.
type Mode int

const (
	// ModeAcquire covers query, fetch and run: dates, clouds, a locator and
	// credentials are required.
	ModeAcquire Mode = iota
	// ModeComposite works on an existing output directory only.
	ModeComposite
)

// LocatorKind is the spatial dimension a run filters on.
type LocatorKind int

const (
	LocatorNone LocatorKind = iota
	LocatorAOI
	LocatorTiles
	LocatorTileOrbit
)

func (k LocatorKind) String() string {
	switch k {
	case LocatorAOI:
		return "aoi"
	case LocatorTiles:
		return "tiles"
	case LocatorTileOrbit:
		return "tile-orbit"
	default:
		return "none"
	}
}

// Locator holds exactly one spatial filter.
type Locator struct {
	Kind LocatorKind
	// AOI is the WKT polygon for LocatorAOI.
	AOI string
	// Tiles lists tile ids without the T prefix, in caller order.
	Tiles []string
	// Orbit is the relative orbit for LocatorTileOrbit; Tiles has one element.
	Orbit int
}

// ChannelOrder decides how composite channels are ordered.
type ChannelOrder string

const (
	// ChannelOrderSelection writes channels in band selection order.
	ChannelOrderSelection ChannelOrder = "selection"
	// ChannelOrderLegacy writes channels in raster file name order.
	ChannelOrderLegacy ChannelOrder = "legacy"
)

// Defaults applied by Build.
const (
	DefaultRasterExt    = ".jp2"
	DefaultCompositeExt = ".img"
	DefaultWorkers      = 1
	MaxWorkers          = 16
	MaxRelativeOrbit    = 143
)

// Input is the raw, string-typed configuration as supplied by flags, config
// files or environment.
type Input struct {
	OutputDir string `mapstructure:"output"`

	Begin    string `mapstructure:"begin"`
	End      string `mapstructure:"end"`
	CloudMin string `mapstructure:"cloud_min"`
	CloudMax string `mapstructure:"cloud_max"`

	AOI   string `mapstructure:"aoi"`
	Tiles string `mapstructure:"tiles"`
	Tile  string `mapstructure:"tile"`
	Orbit string `mapstructure:"orbit"`

	Bands        string `mapstructure:"bands"`
	ChannelOrder string `mapstructure:"channel_order"`
	RasterExt    string `mapstructure:"raster_ext"`
	CompositeExt string `mapstructure:"composite_ext"`

	FetchWorkers     int  `mapstructure:"workers"`
	CompositeWorkers int  `mapstructure:"composite_workers"`
	ContinueOnError  bool `mapstructure:"continue_on_error"`
	TriggerRetrieval bool `mapstructure:"trigger_retrieval"`
	LegacyTileOrder  bool `mapstructure:"legacy_tile_order"`
	VerifyArchives   bool `mapstructure:"verify_archives"`

	HubURL      string        `mapstructure:"hub_url"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	Credentials Credentials `mapstructure:"-"`
}

// Config is the validated run configuration.
type Config struct {
	Mode      Mode
	OutputDir string

	Begin    catalog.Date
	End      catalog.Date
	CloudMin float64
	CloudMax float64
	Locator  Locator

	// Bands is nil when no composite was requested.
	Bands        bands.Selection
	ChannelOrder ChannelOrder
	RasterExt    string
	CompositeExt string

	FetchWorkers     int
	CompositeWorkers int
	ContinueOnError  bool
	TriggerRetrieval bool
	LegacyTileOrder  bool
	// VerifyArchives compares archive digests even when size and mtime
	// match the expansion marker.
	VerifyArchives bool

	HubURL      string
	CallTimeout time.Duration
	Credentials Credentials

	// Raw keeps the caller's date and cloud strings for file naming.
	Raw Input
}

// AOILoader resolves an AOI argument into a WKT polygon.
type AOILoader func(arg string) (string, error)

var tilePattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{3}$`)

// Build validates in and returns the typed configuration. Every problem is
// reported at once through ValidationErrors; no network call happens here.
func Build(in Input, mode Mode, loadAOI AOILoader, now time.Time) (Config, error) {
	var errs ValidationErrors
	cfg := Config{
		Mode:             mode,
		OutputDir:        strings.TrimSpace(in.OutputDir),
		ContinueOnError:  in.ContinueOnError,
		TriggerRetrieval: in.TriggerRetrieval,
		LegacyTileOrder:  in.LegacyTileOrder,
		VerifyArchives:   in.VerifyArchives,
		HubURL:           strings.TrimSpace(in.HubURL),
		CallTimeout:      in.CallTimeout,
		Credentials:      in.Credentials,
		Raw:              in,
	}

	if cfg.OutputDir == "" {
		errs.Add("output", "", "output directory is required")
	}

	if mode == ModeAcquire {
		buildAcquire(&cfg, in, loadAOI, now, &errs)
	}

	if strings.TrimSpace(in.Bands) != "" {
		sel, err := bands.ParseSelection(in.Bands)
		if err != nil {
			errs.Add("bands", in.Bands, err.Error())
		}
		cfg.Bands = sel
	} else if mode == ModeComposite {
		errs.Add("bands", "", "band selection is required")
	}

	switch ChannelOrder(strings.ToLower(strings.TrimSpace(in.ChannelOrder))) {
	case "", ChannelOrderSelection:
		cfg.ChannelOrder = ChannelOrderSelection
	case ChannelOrderLegacy:
		cfg.ChannelOrder = ChannelOrderLegacy
	default:
		errs.Add("channel_order", in.ChannelOrder, "must be selection or legacy")
	}

	cfg.RasterExt = normalizeExt(in.RasterExt, DefaultRasterExt)
	cfg.CompositeExt = normalizeExt(in.CompositeExt, DefaultCompositeExt)

	cfg.FetchWorkers = workers(in.FetchWorkers, "workers", &errs)
	cfg.CompositeWorkers = workers(in.CompositeWorkers, "composite_workers", &errs)

	if len(errs) > 0 {
		return Config{}, errs
	}
	return cfg, nil
}

func buildAcquire(cfg *Config, in Input, loadAOI AOILoader, now time.Time, errs *ValidationErrors) {
	begin, beginErr := catalog.ParseDate(in.Begin)
	if beginErr != nil {
		errs.Add("begin", in.Begin, beginErr.Error())
	}
	end, endErr := catalog.ParseDate(defaultString(in.End, "NOW"))
	if endErr != nil {
		errs.Add("end", in.End, endErr.Error())
	}
	if beginErr == nil && endErr == nil {
		b, e := begin.Resolve(now), end.Resolve(now)
		if b.Before(catalog.EarliestDate) {
			errs.Add("begin", in.Begin, fmt.Sprintf("must not be before %s", catalog.EarliestDate.Format(catalog.DateLayout)))
		}
		if e.Before(b) {
			errs.Add("end", defaultString(in.End, "NOW"), "must not be before begin")
		}
		cfg.Begin, cfg.End = begin, end
	}

	lo, loOK := cloud(defaultString(in.CloudMin, "0"), "cloud_min", errs)
	hi, hiOK := cloud(defaultString(in.CloudMax, "100"), "cloud_max", errs)
	if loOK && hiOK && lo > hi {
		errs.Add("cloud_max", in.CloudMax, "must not be below cloud_min")
	}
	cfg.CloudMin, cfg.CloudMax = lo, hi

	cfg.Locator = buildLocator(in, loadAOI, errs)

	if !cfg.Credentials.Complete() {
		errs.Add("credentials", "", "username and password are required")
	}
}

func buildLocator(in Input, loadAOI AOILoader, errs *ValidationErrors) Locator {
	aoi := strings.TrimSpace(in.AOI)
	tiles := strings.TrimSpace(in.Tiles)
	tile := strings.TrimSpace(in.Tile)
	orbit := strings.TrimSpace(in.Orbit)

	set := 0
	for _, v := range []string{aoi, tiles, tile} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		errs.Add("locator", "", "exactly one of aoi, tiles or tile (with orbit) is required")
		return Locator{}
	}
	if orbit != "" && tile == "" {
		errs.Add("orbit", orbit, "orbit requires tile")
		return Locator{}
	}

	switch {
	case aoi != "":
		if loadAOI == nil {
			errs.Add("aoi", aoi, "no geometry loader available")
			return Locator{}
		}
		wkt, err := loadAOI(aoi)
		if err != nil {
			errs.Add("aoi", aoi, err.Error())
			return Locator{}
		}
		return Locator{Kind: LocatorAOI, AOI: wkt}

	case tiles != "":
		var list []string
		seen := map[string]struct{}{}
		for _, raw := range strings.FieldsFunc(tiles, func(r rune) bool { return r == ';' || r == ',' }) {
			id, ok := normalizeTile(raw)
			if !ok {
				errs.Add("tiles", raw, "tile must look like 11SQS")
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			list = append(list, id)
		}
		if len(list) == 0 {
			errs.Add("tiles", tiles, "no tiles given")
		}
		return Locator{Kind: LocatorTiles, Tiles: list}

	default:
		id, ok := normalizeTile(tile)
		if !ok {
			errs.Add("tile", tile, "tile must look like 11SQS")
		}
		if orbit == "" {
			return Locator{Kind: LocatorTiles, Tiles: []string{id}}
		}
		n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(orbit), "R"))
		if err != nil || n < 1 || n > MaxRelativeOrbit {
			errs.Add("orbit", orbit, fmt.Sprintf("relative orbit must be 1..%d", MaxRelativeOrbit))
		}
		return Locator{Kind: LocatorTileOrbit, Tiles: []string{id}, Orbit: n}
	}
}

func normalizeTile(raw string) (string, bool) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if len(id) == 6 && id[0] == 'T' {
		id = id[1:]
	}
	return id, tilePattern.MatchString(id)
}

func cloud(raw, field string, errs *ValidationErrors) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		errs.Add(field, raw, "must be a number")
		return 0, false
	}
	if v < 0 || v > 100 {
		errs.Add(field, raw, "must be within 0..100")
		return 0, false
	}
	return v, true
}

func workers(n int, field string, errs *ValidationErrors) int {
	switch {
	case n == 0:
		return DefaultWorkers
	case n < 0 || n > MaxWorkers:
		errs.Add(field, strconv.Itoa(n), fmt.Sprintf("must be within 1..%d", MaxWorkers))
		return DefaultWorkers
	default:
		return n
	}
}

func normalizeExt(ext, def string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return def
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(ext)
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// TiledDedup reports whether deduplication keys on (date, tile).
func (c Config) TiledDedup() bool {
	return c.Locator.Kind == LocatorTiles || c.Locator.Kind == LocatorTileOrbit
}
