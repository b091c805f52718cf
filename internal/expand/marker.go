package expand

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"s2batch/internal/ledger"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// MarkerState tells a finished extraction from one still in progress.
type MarkerState string

const (
	// MarkerExtracting is written before the first entry is unpacked. Finding
	// it later means a previous pass stopped part way.
	MarkerExtracting MarkerState = "extracting"
	MarkerComplete   MarkerState = "complete"
)

// Marker records the extraction of one archive.
type Marker struct {
	Archive   string      `yaml:"archive"`
	State     MarkerState `yaml:"state"`
	Size      int64       `yaml:"size"`
	ModTime   time.Time   `yaml:"mod_time"`
	Digest    string      `yaml:"blake3"`
	Roots     []string    `yaml:"roots,omitempty"`
	Completed time.Time   `yaml:"completed,omitempty"`
	RunID     string      `yaml:"run_id,omitempty"`
}

// MarkerPath is where the marker for archive lives inside outputDir.
func MarkerPath(outputDir, archive string) string {
	return filepath.Join(outputDir, ledger.DirName, "expanded", filepath.Base(archive)+".yaml")
}

func readMarker(path string) (Marker, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, err
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("decode marker %s: %w", path, err)
	}
	return m, true, nil
}

// writeMarker writes via a temp file and rename so a marker is never partial.
func writeMarker(path string, m Marker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".marker-*")
	if err != nil {
		return fmt.Errorf("create marker temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close marker: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename marker: %w", err)
	}
	return nil
}

// matches reports whether size and mtime still describe the archive on disk.
func (m Marker) matches(info os.FileInfo) bool {
	return m.Size == info.Size() && m.ModTime.Equal(markerTime(info))
}

// complete reports whether the marker records a finished extraction.
func (m Marker) complete() bool {
	return m.State == MarkerComplete
}

func markerTime(info os.FileInfo) time.Time {
	return info.ModTime().UTC().Truncate(time.Second)
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
