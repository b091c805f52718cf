package gdalstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDriverFor(t *testing.T) {
	cases := map[string]string{
		"S2_MSIL1C_20200419_R070_T11SQS_B2-4_8.img": "HFA",
		"composite.TIF":  "GTiff",
		"composite.vrt":  "VRT",
		"composite.jp2x": "GTiff",
		"composite":      "GTiff",
	}
	for name, want := range cases {
		assert.Equal(t, want, DriverFor(name), name)
	}
}
