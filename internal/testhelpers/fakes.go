package testhelpers

import (
	"context"
	"errors"
	"sync"

	"github.com/minewatch/minewatch/internal/imagery"
	"github.com/minewatch/minewatch/internal/models"
)

// FakeCatalog implements imagery.Catalog with scripted responses.
type FakeCatalog struct {
	mu sync.Mutex

	Assets   []imagery.Asset
	ListErr  error
	Stats    map[string]models.SpectralIndices
	StatsErr error
	// FailFirst makes the first N statistics calls for an asset fail.
	FailFirst map[string]int
	// Block, when set, is awaited by every statistics call.
	Block chan struct{}

	statsCalls map[string]int
	patchCalls int
}

// NewFakeCatalog creates an empty catalog.
func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		Stats:      make(map[string]models.SpectralIndices),
		FailFirst:  make(map[string]int),
		statsCalls: make(map[string]int),
	}
}

// AddAsset registers an asset with the same mean and stddev on every index.
func (f *FakeCatalog) AddAsset(a imagery.Asset, ndvi, ndwi, ndti, stddev float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Assets = append(f.Assets, a)
	f.Stats[a.ID] = models.SpectralIndices{
		NDVI: models.IndexStats{Mean: models.Float(ndvi), StdDev: models.Float(stddev)},
		NDWI: models.IndexStats{Mean: models.Float(ndwi), StdDev: models.Float(stddev)},
		NDTI: models.IndexStats{Mean: models.Float(ndti), StdDev: models.Float(stddev)},
	}
}

// ListRecentAssets returns every registered asset captured within the window.
func (f *FakeCatalog) ListRecentAssets(ctx context.Context, w imagery.Window) ([]imagery.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var out []imagery.Asset
	for _, a := range f.Assets {
		if !w.Start.IsZero() && a.CaptureDate.Before(w.Start) {
			continue
		}
		if !w.End.IsZero() && a.CaptureDate.After(w.End) {
			continue
		}
		if w.MaxCloudCoverage > 0 && a.CloudCoverage > w.MaxCloudCoverage {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// IndexStatistics returns the scripted statistics.
func (f *FakeCatalog) IndexStatistics(ctx context.Context, assetID string) (models.SpectralIndices, error) {
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return models.SpectralIndices{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls[assetID]++
	if f.StatsErr != nil {
		return models.SpectralIndices{}, f.StatsErr
	}
	if f.statsCalls[assetID] <= f.FailFirst[assetID] {
		return models.SpectralIndices{}, errors.New("earth engine quota exceeded")
	}
	s, ok := f.Stats[assetID]
	if !ok {
		return models.SpectralIndices{}, errors.New("asset not found")
	}
	return s, nil
}

// LocalPatch returns a 1x1 patch.
func (f *FakeCatalog) LocalPatch(ctx context.Context, req imagery.PatchRequest) (*imagery.Patch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchCalls++
	return &imagery.Patch{Width: 1, Height: 1, Bands: []string{"B4"}, Data: []float32{0.5}}, nil
}

// StatsCalls returns the number of statistics calls for an asset.
func (f *FakeCatalog) StatsCalls(assetID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls[assetID]
}

// FakePredictor returns a fixed score.
type FakePredictor struct {
	Score float64
	Err   error
}

// Predict implements inference.Predictor.
func (p *FakePredictor) Predict(ctx context.Context, patch *imagery.Patch) (float64, error) {
	return p.Score, p.Err
}
