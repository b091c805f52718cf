// Package geo turns an area-of-interest description into the WKT polygon the
// catalog footprint filter expects.
package geo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
)

// ErrNoGeometry is returned when the input contains no polygonal geometry.
var ErrNoGeometry = errors.New("geo: no polygon geometry found")

var registerOnce sync.Once

// LoadAOI resolves an AOI argument. Inline WKT (POLYGON or MULTIPOLYGON) is
// returned as-is; anything else is read as a GeoJSON file.
func LoadAOI(arg string) (string, error) {
	trimmed := strings.TrimSpace(arg)
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "POLYGON") || strings.HasPrefix(upper, "MULTIPOLYGON") {
		return trimmed, nil
	}
	if _, err := os.Stat(trimmed); err != nil {
		return "", fmt.Errorf("read AOI %s: %w", trimmed, err)
	}
	return firstPolygon(trimmed)
}

// GeoJSONToWKT converts a GeoJSON document into WKT. Only the geometry of the
// first feature is used; it must be a Polygon or MultiPolygon.
func GeoJSONToWKT(data []byte) (string, error) {
	return firstPolygon(string(data))
}

// firstPolygon opens name (a path or inline GeoJSON text) through the OGR
// GeoJSON driver and exports the first feature's geometry.
func firstPolygon(name string) (string, error) {
	registerOnce.Do(godal.RegisterAll)

	ds, err := godal.Open(name, godal.VectorOnly())
	if err != nil {
		return "", fmt.Errorf("geo: open GeoJSON: %w", err)
	}
	defer ds.Close()

	layers := ds.Layers()
	if len(layers) == 0 {
		return "", ErrNoGeometry
	}
	feature := layers[0].NextFeature()
	if feature == nil {
		return "", ErrNoGeometry
	}
	defer feature.Close()

	geom := feature.Geometry()
	if geom.Empty() {
		return "", ErrNoGeometry
	}
	switch geom.Type() {
	case godal.GTPolygon, godal.GTPolygon25D, godal.GTMultiPolygon, godal.GTMultiPolygon25D:
	default:
		return "", fmt.Errorf("%w: first feature is %s", ErrNoGeometry, geom.Name())
	}
	wkt, err := geom.WKT()
	if err != nil {
		return "", fmt.Errorf("geo: export WKT: %w", err)
	}
	return wkt, nil
}
