// Package imagery talks to the satellite imagery provider that lists assets
// and computes per-image spectral statistics.
package imagery

import (
	"context"
	"time"

	"github.com/minewatch/minewatch/internal/models"
)

// Asset is one image available from the provider.
type Asset struct {
	ID            string    `json:"asset_id"`
	Name          string    `json:"name"`
	CaptureDate   time.Time `json:"capture_date"`
	CloudCoverage float64   `json:"cloud_coverage"`
	Source        string    `json:"satellite_source"`
	Resolution    float64   `json:"resolution"`
	CenterLat     *float64  `json:"center_lat,omitempty"`
	CenterLon     *float64  `json:"center_lon,omitempty"`
}

// Window selects assets for a region over a time range.
type Window struct {
	RegionCode       string
	Start            time.Time
	End              time.Time
	MaxCloudCoverage float64
	Collection       string
}

// PatchRequest asks for a raster patch centred on a point.
type PatchRequest struct {
	AssetID string  `json:"asset_id"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Size    int     `json:"size"`
	Scale   int     `json:"scale"`
}

// Patch is a multi-band raster, band-interleaved by pixel.
type Patch struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Bands  []string  `json:"bands"`
	Data   []float32 `json:"data"`
}

// Catalog is the imagery provider. Errors are treated as transient by callers.
type Catalog interface {
	ListRecentAssets(ctx context.Context, w Window) ([]Asset, error)
	IndexStatistics(ctx context.Context, assetID string) (models.SpectralIndices, error)
	LocalPatch(ctx context.Context, req PatchRequest) (*Patch, error)
}
