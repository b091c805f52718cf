package bands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact(t *testing.T) {
	tests := []struct {
		name  string
		bands []int
		want  string
	}{
		{name: "run with tail", bands: []int{2, 3, 4, 8}, want: "2-4_8"},
		{name: "single", bands: []int{2}, want: "2"},
		{name: "no runs", bands: []int{1, 3, 5}, want: "1_3_5"},
		{name: "one run", bands: []int{1, 2, 3}, want: "1-3"},
		{name: "two runs", bands: []int{1, 2, 5, 6, 7}, want: "1-2_5-7"},
		{name: "caller order kept", bands: []int{8, 4, 3, 2}, want: "8_4_3_2"},
		{name: "descending pairs are not runs", bands: []int{3, 2}, want: "3_2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compact(tt.bands)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompactEmpty(t *testing.T) {
	_, err := Compact(nil)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = Canonical([]int{})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestCanonicalIgnoresCallerOrder(t *testing.T) {
	got, err := Canonical([]int{8, 4, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, "2-4_8", got)

	got, err = Canonical([]int{3, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, "2-3", got)
}

func TestParseSelection(t *testing.T) {
	sel, err := ParseSelection(DefaultSelection)
	require.NoError(t, err)
	assert.Equal(t, Selection{"02", "03", "04", "08"}, sel)
	assert.Equal(t, []int{2, 3, 4, 8}, sel.Numbers())
	assert.Equal(t, DefaultSelection, sel.String())

	sel, err = ParseSelection(" 08 ; 04 ")
	require.NoError(t, err)
	assert.Equal(t, Selection{"08", "04"}, sel)
}

func TestParseSelectionRejects(t *testing.T) {
	for _, input := range []string{"", "2;3", "00", "13", "8A", "02;;03", "02;02", "002"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSelection(input)
			assert.Error(t, err)
		})
	}
}
