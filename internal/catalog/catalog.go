// Package catalog defines the contract between the pipeline and a remote
// Sentinel-2 imagery catalog.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors returned by Catalog implementations.
var (
	// ErrUnauthorized reports rejected credentials. It is fatal for a run.
	ErrUnauthorized = errors.New("catalog: authentication failed")
	// ErrNotFound reports an unknown product id.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrOffline reports a product that must be restored from long-term archive.
	ErrOffline = errors.New("catalog: product offline")
	// ErrChecksumMismatch reports a download whose content did not match the catalog checksum.
	ErrChecksumMismatch = errors.New("catalog: checksum mismatch")
)

// Catalog is the query/status/download surface of an imagery hub.
type Catalog interface {
	// Query returns every product matching f, following pagination.
	Query(ctx context.Context, f Filter) ([]Product, error)
	// Status reports whether a product can be downloaded now.
	Status(ctx context.Context, id string) (Status, error)
	// Download writes the product archive into destDir and returns its path.
	// Implementations must not leave a partial file at the returned path.
	Download(ctx context.Context, p Product, destDir string) (string, error)
	// TriggerRetrieval asks the hub to restore an offline product. It does not wait.
	TriggerRetrieval(ctx context.Context, id string) error
}

// Product is one catalog-indexed acquisition. Values are immutable once
// returned by a Catalog.
type Product struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Filename      string    `json:"filename"`
	Acquired      time.Time `json:"acquired"`
	Tile          string    `json:"tile,omitempty"`
	RelativeOrbit int       `json:"relative_orbit,omitempty"`
	CloudCover    float64   `json:"cloud_cover"`
	SizeBytes     uint64    `json:"size_bytes"`
	Online        bool      `json:"online"`
	Checksum      string    `json:"checksum,omitempty"`
}

// Date returns the acquisition date as YYYYMMDD in UTC.
func (p Product) Date() string {
	return p.Acquired.UTC().Format("20060102")
}

// ArchiveName is the file name the archive is stored under locally.
func (p Product) ArchiveName() string {
	return p.Name() + ".zip"
}

// Name is the product name without the .SAFE suffix.
func (p Product) Name() string {
	if p.Title != "" {
		return p.Title
	}
	return strings.TrimSuffix(p.Filename, ".SAFE")
}

// Availability is the download readiness of a product.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	Online
	Offline
)

func (a Availability) String() string {
	switch a {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Status is the result of a status lookup.
type Status struct {
	Availability Availability
	// Checksum is the MD5 hex digest of the archive when the hub publishes one.
	Checksum string
}
