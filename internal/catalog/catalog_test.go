package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateSetLastWriteWinsInPlace(t *testing.T) {
	set := NewCandidateSet()
	set.Merge([]Product{{ID: "a", SizeBytes: 1}, {ID: "b", SizeBytes: 2}})
	set.Merge([]Product{{ID: "c", SizeBytes: 3}, {ID: "a", SizeBytes: 10}})

	products := set.Products()
	require.Len(t, products, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{products[0].ID, products[1].ID, products[2].ID})
	assert.Equal(t, uint64(10), products[0].SizeBytes)
	assert.Equal(t, 3, set.Len())

	got, ok := set.Get("b")
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.SizeBytes)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("20200419")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 4, 19, 0, 0, 0, 0, time.UTC), d.Time)
	assert.Equal(t, "20200419", d.String())

	d, err = ParseDate("now")
	require.NoError(t, err)
	assert.True(t, d.Now)
	assert.Equal(t, "NOW", d.String())
	ref := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, ref, d.Resolve(ref))

	for _, bad := range []string{"2020-04-19", "20201340", "yesterday", ""} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestProductNaming(t *testing.T) {
	p := Product{
		Filename: "S2A_MSIL1C_20200419T182921_N0209_R027_T11SQS_20200419T215006.SAFE",
		Acquired: time.Date(2020, 4, 19, 18, 29, 21, 0, time.UTC),
	}
	assert.Equal(t, "S2A_MSIL1C_20200419T182921_N0209_R027_T11SQS_20200419T215006", p.Name())
	assert.Equal(t, "S2A_MSIL1C_20200419T182921_N0209_R027_T11SQS_20200419T215006.zip", p.ArchiveName())
	assert.Equal(t, "20200419", p.Date())
}

func TestFilterLocator(t *testing.T) {
	assert.Equal(t, "aoi", Filter{Footprint: "POLYGON((0 0,1 0,1 1,0 0))"}.Locator())
	assert.Equal(t, "tile T11SQS", Filter{Tile: "11SQS"}.Locator())
	assert.Equal(t, "tile T11SQS orbit R070", Filter{Tile: "11SQS", RelativeOrbit: 70}.Locator())
}
