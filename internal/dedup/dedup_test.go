package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2batch/internal/catalog"
)

const mb = 1000 * 1000

func product(id string, day int, tile string, sizeMB uint64) catalog.Product {
	return catalog.Product{
		ID:        id,
		Acquired:  time.Date(2020, 4, day, 18, 29, 21, 0, time.UTC),
		Tile:      tile,
		SizeBytes: sizeMB * mb,
	}
}

func ids(products []catalog.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

func TestSameTileSameDateKeepsSmallest(t *testing.T) {
	candidates := []catalog.Product{
		product("fifty", 19, "11SQS", 50),
		product("thirty", 19, "11SQS", 30),
		product("forty", 19, "11SQS", 40),
	}

	for _, mode := range []Mode{ByDate, ByDateTile} {
		res := Apply(candidates, Options{Mode: mode})
		require.Len(t, res.Kept, 1)
		assert.Equal(t, "thirty", res.Kept[0].ID)
		assert.Equal(t, uint64(30*mb), res.Kept[0].SizeBytes)
		assert.ElementsMatch(t, []string{"fifty", "forty"}, ids(res.Culled))
	}
}

func TestLegacyTileOrderKeepsLargest(t *testing.T) {
	candidates := []catalog.Product{
		product("fifty", 19, "11SQS", 50),
		product("thirty", 19, "11SQS", 30),
		product("forty", 19, "11SQS", 40),
	}
	res := Apply(candidates, Options{Mode: ByDateTile, LegacyTileOrder: true})
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "fifty", res.Kept[0].ID)

	// Legacy ordering applies to tile mode only.
	res = Apply(candidates, Options{Mode: ByDate, LegacyTileOrder: true})
	assert.Equal(t, "thirty", res.Kept[0].ID)
}

func TestByDateTileKeepsOnePerTile(t *testing.T) {
	candidates := []catalog.Product{
		product("b-sps", 19, "11SPS", 10),
		product("a-sqs", 19, "11SQS", 20),
		product("c-sqs", 24, "11SQS", 20),
		product("d-sqs", 19, "11SQS", 25),
	}
	res := Apply(candidates, Options{Mode: ByDateTile})
	assert.Equal(t, []string{"b-sps", "a-sqs", "c-sqs"}, ids(res.Kept))
	assert.Equal(t, []string{"d-sqs"}, ids(res.Culled))

	res = Apply(candidates, Options{Mode: ByDate})
	assert.Equal(t, []string{"b-sps", "c-sqs"}, ids(res.Kept))
}

func TestTiesKeepCandidateOrder(t *testing.T) {
	candidates := []catalog.Product{
		product("first", 19, "11SQS", 30),
		product("second", 19, "11SQS", 30),
	}
	res := Apply(candidates, Options{Mode: ByDate})
	assert.Equal(t, []string{"first"}, ids(res.Kept))
}

func TestRetentionProperty(t *testing.T) {
	var candidates []catalog.Product
	sizes := []uint64{70, 12, 55, 12, 90, 31, 44, 8, 63}
	for i, size := range sizes {
		candidates = append(candidates, product(string(rune('a'+i)), 1+i%3, "11SQS", size))
	}

	res := Apply(candidates, Options{Mode: ByDate})
	assert.Len(t, res.Kept, 3)
	assert.Len(t, res.Culled, len(candidates)-3)

	kept := map[string]catalog.Product{}
	for _, p := range res.Kept {
		_, dup := kept[Key(p, ByDate)]
		require.False(t, dup, "two survivors share a key")
		kept[Key(p, ByDate)] = p
	}
	for _, p := range res.Culled {
		survivor, ok := kept[Key(p, ByDate)]
		require.True(t, ok)
		assert.LessOrEqual(t, survivor.SizeBytes, p.SizeBytes)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	candidates := []catalog.Product{product("b", 24, "", 1), product("a", 19, "", 1)}
	Apply(candidates, Options{})
	assert.Equal(t, []string{"b", "a"}, ids(candidates))
}
