// Package gdalstack stacks band rasters with GDAL: the inputs are gathered
// into a separate-band VRT and translated into the output driver.
package gdalstack

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
)

var registerOnce sync.Once

// Drivers maps output extensions to GDAL driver short names. Unknown
// extensions fall back to GTiff.
var Drivers = map[string]string{
	".img":  "HFA",
	".tif":  "GTiff",
	".tiff": "GTiff",
	".vrt":  "VRT",
}

// Stacker implements raster.Stacker on top of godal.
type Stacker struct {
	// CreationOptions are passed to the output driver as -co values.
	CreationOptions []string
}

// New registers the GDAL drivers once and returns a Stacker.
func New(creationOptions ...string) *Stacker {
	registerOnce.Do(godal.RegisterAll)
	return &Stacker{CreationOptions: creationOptions}
}

// DriverFor returns the GDAL driver used for out.
func DriverFor(out string) string {
	if driver, ok := Drivers[strings.ToLower(filepath.Ext(out))]; ok {
		return driver
	}
	return "GTiff"
}

// Stack builds the multi-band raster. GDAL calls are not cancellable, so ctx
// is only checked before work starts.
func (s *Stacker) Stack(ctx context.Context, inputs []string, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no input rasters for %s", filepath.Base(out))
	}

	vrt, err := godal.BuildVRT("", inputs, []string{"-separate"})
	if err != nil {
		return fmt.Errorf("build vrt: %w", err)
	}
	defer vrt.Close()

	switches := []string{"-of", DriverFor(out)}
	for _, co := range s.CreationOptions {
		switches = append(switches, "-co", co)
	}
	ds, err := vrt.Translate(out, switches)
	if err != nil {
		return fmt.Errorf("translate to %s: %w", filepath.Base(out), err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(out), err)
	}
	return nil
}
