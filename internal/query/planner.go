// Package query turns a run configuration into catalog queries and merges
// their results.
package query

import (
	"context"
	"errors"
	"fmt"

	"s2batch/internal/catalog"
	"s2batch/internal/config"
	"s2batch/internal/logging"
)

// Planner issues one catalog query per locator value.
type Planner struct {
	catalog catalog.Catalog
	logger  logging.Logger
}

// NewPlanner returns a planner over cat.
func NewPlanner(cat catalog.Catalog, logger logging.Logger) *Planner {
	return &Planner{catalog: cat, logger: logging.OrNop(logger)}
}

// Filters expands cfg into the ordered list of catalog filters to run: one
// for an AOI or a tile+orbit pair, one per tile for a tile list.
func Filters(cfg config.Config) ([]catalog.Filter, error) {
	base := catalog.Filter{
		Begin:    cfg.Begin,
		End:      cfg.End,
		CloudMin: cfg.CloudMin,
		CloudMax: cfg.CloudMax,
	}
	switch cfg.Locator.Kind {
	case config.LocatorAOI:
		f := base
		f.Footprint = cfg.Locator.AOI
		return []catalog.Filter{f}, nil
	case config.LocatorTileOrbit:
		f := base
		f.Tile = cfg.Locator.Tiles[0]
		f.RelativeOrbit = cfg.Locator.Orbit
		return []catalog.Filter{f}, nil
	case config.LocatorTiles:
		filters := make([]catalog.Filter, 0, len(cfg.Locator.Tiles))
		for _, tile := range cfg.Locator.Tiles {
			f := base
			f.Tile = tile
			filters = append(filters, f)
		}
		return filters, nil
	default:
		return nil, fmt.Errorf("query: no locator configured")
	}
}

// Run executes every filter in order and merges the results into one
// CandidateSet. Authentication failures abort immediately.
func (p *Planner) Run(ctx context.Context, filters []catalog.Filter) (*catalog.CandidateSet, error) {
	set := catalog.NewCandidateSet()
	for _, f := range filters {
		products, err := p.catalog.Query(ctx, f)
		if err != nil {
			if errors.Is(err, catalog.ErrUnauthorized) {
				return nil, err
			}
			return nil, fmt.Errorf("query %s: %w", f.Locator(), err)
		}
		p.logger.Info("Query %s returned %d products", f.Locator(), len(products))
		set.Merge(products)
	}
	p.logger.Info("Number of products returned from query: %d", set.Len())
	return set, nil
}

// Plan is Filters followed by Run.
func (p *Planner) Plan(ctx context.Context, cfg config.Config) (*catalog.CandidateSet, error) {
	filters, err := Filters(cfg)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, filters)
}
