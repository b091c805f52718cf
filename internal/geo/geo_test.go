package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const featureCollection = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "properties": {"name": "field"},
    "geometry": {
      "type": "Polygon",
      "coordinates": [[[-117.5, 33.9], [-117.2, 33.9], [-117.2, 34.1], [-117.5, 34.1], [-117.5, 33.9]]]
    }
  }, {
    "type": "Feature",
    "properties": {"name": "ignored"},
    "geometry": {
      "type": "Polygon",
      "coordinates": [[[10, 10], [11, 10], [11, 11], [10, 10]]]
    }
  }]
}`

func TestGeoJSONToWKTUsesFirstFeature(t *testing.T) {
	wkt, err := GeoJSONToWKT([]byte(featureCollection))
	require.NoError(t, err)
	assert.Equal(t, "POLYGON ((-117.5 33.9,-117.2 33.9,-117.2 34.1,-117.5 34.1,-117.5 33.9))", wkt)
	assert.NotContains(t, wkt, "10 10")
}

func TestGeoJSONToWKTMultiPolygon(t *testing.T) {
	doc := `{"type":"MultiPolygon","coordinates":[
	  [[[0,0],[1,0],[1,1],[0,0]]],
	  [[[2,2],[3,2],[3,3],[2,2]]]
	]}`
	wkt, err := GeoJSONToWKT([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "MULTIPOLYGON (((0 0,1 0,1 1,0 0)),((2 2,3 2,3 3,2 2)))", wkt)
}

func TestGeoJSONToWKTErrors(t *testing.T) {
	_, err := GeoJSONToWKT([]byte(`{"type":"Point","coordinates":[1,2]}`))
	assert.ErrorIs(t, err, ErrNoGeometry)

	_, err = GeoJSONToWKT([]byte(`{"type":"FeatureCollection","features":[]}`))
	assert.ErrorIs(t, err, ErrNoGeometry)

	_, err = GeoJSONToWKT([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoadAOI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(featureCollection), 0o644))

	wkt, err := LoadAOI(path)
	require.NoError(t, err)
	assert.Contains(t, wkt, "POLYGON ((-117.5 33.9")

	inline := "POLYGON((0 0,1 0,1 1,0 0))"
	wkt, err = LoadAOI(inline)
	require.NoError(t, err)
	assert.Equal(t, inline, wkt)

	_, err = LoadAOI(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}
