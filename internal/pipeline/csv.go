package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"s2batch/internal/catalog"
	"s2batch/internal/config"

	"github.com/dustin/go-humanize"
)

var csvHeader = []string{
	"id", "title", "filename", "acquired", "tile", "relative_orbit",
	"cloud_cover", "size", "size_bytes", "online",
}

// MetadataCSVName names the product metadata file for cfg. The caller's
// date and cloud strings are used as given.
func MetadataCSVName(cfg config.Config) string {
	var locator string
	switch cfg.Locator.Kind {
	case config.LocatorAOI:
		locator = "by_AOI"
	case config.LocatorTileOrbit:
		locator = fmt.Sprintf("T%s_R%03d", cfg.Locator.Tiles[0], cfg.Locator.Orbit)
	default:
		tiles := make([]string, len(cfg.Locator.Tiles))
		for i, t := range cfg.Locator.Tiles {
			tiles[i] = "T" + t
		}
		locator = strings.Join(tiles, "_")
	}
	end := cfg.Raw.End
	if end == "" {
		end = "NOW"
	}
	cloudMin, cloudMax := cfg.Raw.CloudMin, cfg.Raw.CloudMax
	if cloudMin == "" {
		cloudMin = "0"
	}
	if cloudMax == "" {
		cloudMax = "100"
	}
	return fmt.Sprintf("Sentinel-2_Level-1C_Query_%s_%s-%s_Clouds_%s-%s_Metadata.csv",
		locator, cfg.Raw.Begin, end, cloudMin, cloudMax)
}

// WriteMetadataCSV writes products to dir/name, replacing any earlier file.
func WriteMetadataCSV(dir, name string, products []catalog.Product) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create metadata csv: %w", err)
	}

	w := csv.NewWriter(f)
	_ = w.Write(csvHeader)
	for _, p := range products {
		orbit := ""
		if p.RelativeOrbit > 0 {
			orbit = strconv.Itoa(p.RelativeOrbit)
		}
		_ = w.Write([]string{
			p.ID,
			p.Name(),
			p.Filename,
			p.Acquired.UTC().Format(time.RFC3339),
			p.Tile,
			orbit,
			strconv.FormatFloat(p.CloudCover, 'f', -1, 64),
			humanize.Bytes(p.SizeBytes),
			strconv.FormatUint(p.SizeBytes, 10),
			strconv.FormatBool(p.Online),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write metadata csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close metadata csv: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename metadata csv: %w", err)
	}
	return path, nil
}
