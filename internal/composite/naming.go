package composite

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrLegacyName is returned for products named in the pre-December-2016
// long format, which carries no tile or compact date fields.
var ErrLegacyName = errors.New("composite: product name is not in the compact naming format")

// Identity holds the product fields a composite name is built from.
type Identity struct {
	Mission string // S2A, S2B
	Level   string // MSIL1C
	Date    string // YYYYMMDD
	Orbit   string // R070
	Tile    string // T11SQS
}

// ParseProductName reads identity fields from a compact product name such as
// S2A_MSIL1C_20200419T182911_N0209_R070_T11SQS_20200419T215406(.SAFE).
func ParseProductName(name string) (Identity, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".SAFE")
	parts := strings.Split(base, "_")
	if len(parts) != 7 || !strings.HasPrefix(parts[1], "MSI") || len(parts[2]) < 8 ||
		!strings.HasPrefix(parts[4], "R") || !strings.HasPrefix(parts[5], "T") {
		return Identity{}, fmt.Errorf("%w: %s", ErrLegacyName, base)
	}
	return Identity{
		Mission: parts[0],
		Level:   parts[1],
		Date:    parts[2][:8],
		Orbit:   parts[4],
		Tile:    parts[5],
	}, nil
}

// GranuleTile returns the T-prefixed tile token of a granule id such as
// L1C_T11SQS_A025101_20200419T183253, or "" when it has none.
func GranuleTile(granuleID string) string {
	for _, part := range strings.Split(granuleID, "_") {
		if len(part) == 6 && part[0] == 'T' && isDigit(part[1]) && isDigit(part[2]) {
			return part
		}
	}
	return ""
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Name renders the composite file name. The mission prefix drops its unit
// letter so S2A and S2B composites of one tile and date share a name.
func (id Identity) Name(bandString, ext string) string {
	mission := id.Mission
	if len(mission) > 1 {
		mission = mission[:len(mission)-1]
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s_B%s%s", mission, id.Level, id.Date, id.Orbit, id.Tile, bandString, ext)
}

// MatchesBand reports whether file ends with B<token> immediately before ext.
// Token 08 matches ..._B08.jp2 and not ..._B8A.jp2.
func MatchesBand(file, token, ext string) bool {
	if !strings.EqualFold(filepath.Ext(file), ext) {
		return false
	}
	return strings.HasSuffix(strings.TrimSuffix(file, filepath.Ext(file)), "B"+token)
}
