package catalog

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the caller-facing date format.
const DateLayout = "20060102"

// EarliestDate is the first acquisition date the Level-1C archive serves.
var EarliestDate = time.Date(2016, time.December, 6, 0, 0, 0, 0, time.UTC)

// Date is a YYYYMMDD calendar date or the literal NOW.
type Date struct {
	Time time.Time
	Now  bool
}

// ParseDate accepts YYYYMMDD or NOW (case-insensitive).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "NOW") {
		return Date{Now: true}, nil
	}
	if len(s) != len(DateLayout) {
		return Date{}, fmt.Errorf("date %q must be YYYYMMDD or NOW", s)
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("date %q must be YYYYMMDD or NOW: %w", s, err)
	}
	return Date{Time: t}, nil
}

// Resolve returns the concrete instant, substituting now for NOW.
func (d Date) Resolve(now time.Time) time.Time {
	if d.Now {
		return now.UTC()
	}
	return d.Time
}

// IsZero reports whether the date was never set.
func (d Date) IsZero() bool {
	return !d.Now && d.Time.IsZero()
}

// String renders the date as the caller wrote it.
func (d Date) String() string {
	if d.Now {
		return "NOW"
	}
	if d.Time.IsZero() {
		return ""
	}
	return d.Time.Format(DateLayout)
}

// Filter selects products for one catalog query. Exactly one of Footprint,
// Tile (optionally with RelativeOrbit) is set.
type Filter struct {
	Begin    Date
	End      Date
	CloudMin float64
	CloudMax float64

	// Footprint is a WKT polygon the product must fully contain.
	Footprint string
	// Tile is an MGRS tile id without the leading T (e.g. "11SQS").
	Tile string
	// RelativeOrbit narrows a tile query to one orbit when non-zero.
	RelativeOrbit int
}

// Locator describes which spatial dimension the filter uses, for logging.
func (f Filter) Locator() string {
	switch {
	case f.Footprint != "":
		return "aoi"
	case f.Tile != "" && f.RelativeOrbit > 0:
		return fmt.Sprintf("tile T%s orbit R%03d", f.Tile, f.RelativeOrbit)
	case f.Tile != "":
		return "tile T" + f.Tile
	default:
		return "none"
	}
}
