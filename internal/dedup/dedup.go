// Package dedup collapses overlapping catalog candidates to one product per
// acquisition date, or per acquisition date and tile.
package dedup

import (
	"cmp"
	"slices"

	"s2batch/internal/catalog"
)

// Mode selects the dedup key.
type Mode int

const (
	// ByDate keeps one product per acquisition date (area-of-interest runs).
	ByDate Mode = iota
	// ByDateTile keeps one product per acquisition date and tile.
	ByDateTile
)

// Options tune deduplication.
type Options struct {
	Mode Mode
	// LegacyTileOrder sorts tile-mode ties by size descending, keeping the
	// largest product, as earlier tile-based runs did.
	LegacyTileOrder bool
}

// Result splits the candidates into the survivors and the discarded.
type Result struct {
	Kept   []catalog.Product
	Culled []catalog.Product
}

// Key returns the dedup key of p under mode.
func Key(p catalog.Product, mode Mode) string {
	if mode == ByDateTile {
		return p.Date() + "/" + p.Tile
	}
	return p.Date()
}

// Apply sorts candidates by (date, [tile,] size) and keeps the first product
// per key. The sort is stable so full ties keep candidate order.
func Apply(candidates []catalog.Product, opts Options) Result {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b catalog.Product) int {
		if c := cmp.Compare(a.Date(), b.Date()); c != 0 {
			return c
		}
		if opts.Mode == ByDateTile {
			if c := cmp.Compare(a.Tile, b.Tile); c != 0 {
				return c
			}
			if opts.LegacyTileOrder {
				return cmp.Compare(b.SizeBytes, a.SizeBytes)
			}
		}
		return cmp.Compare(a.SizeBytes, b.SizeBytes)
	})

	var res Result
	seen := make(map[string]struct{}, len(sorted))
	for _, p := range sorted {
		key := Key(p, opts.Mode)
		if _, dup := seen[key]; dup {
			res.Culled = append(res.Culled, p)
			continue
		}
		seen[key] = struct{}{}
		res.Kept = append(res.Kept, p)
	}
	return res
}
