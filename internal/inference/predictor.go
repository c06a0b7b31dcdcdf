// Package inference scores raster patches with the external mining model.
package inference

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/minewatch/minewatch/internal/imagery"
)

// Predictor returns the probability in [0,1] that a patch shows mining.
type Predictor interface {
	Predict(ctx context.Context, patch *imagery.Patch) (float64, error)
}

// PatchSource extracts the raster fed to the model.
type PatchSource interface {
	LocalPatch(ctx context.Context, req imagery.PatchRequest) (*imagery.Patch, error)
}

// Scorer combines patch extraction, prediction and caching. A missing model
// or any failure yields 0.0 so detection can still fire on anomalies alone.
type Scorer struct {
	patches   PatchSource
	predictor Predictor
	cache     *cache.Cache
	size      int
	scale     int
}

// NewScorer creates a scorer. predictor may be nil.
func NewScorer(patches PatchSource, predictor Predictor, ttl time.Duration, size, scale int) *Scorer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Scorer{
		patches:   patches,
		predictor: predictor,
		cache:     cache.New(ttl, 2*ttl),
		size:      size,
		scale:     scale,
	}
}

// Enabled reports whether a model is configured.
func (s *Scorer) Enabled() bool {
	return s != nil && s.predictor != nil
}

// Score returns the model score for a point of an asset.
func (s *Scorer) Score(ctx context.Context, assetID string, lat, lon float64) float64 {
	if !s.Enabled() || assetID == "" {
		return 0
	}

	key := fmt.Sprintf("%s:%.5f:%.5f", assetID, lat, lon)
	if v, ok := s.cache.Get(key); ok {
		return v.(float64)
	}

	patch, err := s.patches.LocalPatch(ctx, imagery.PatchRequest{AssetID: assetID, Lat: lat, Lon: lon, Size: s.size, Scale: s.scale})
	if err != nil {
		log.Printf("InferenceScorer: Failed to extract patch for %s: %v", assetID, err)
		return 0
	}

	score, err := s.predictor.Predict(ctx, patch)
	if err != nil {
		log.Printf("InferenceScorer: Prediction failed for %s: %v", assetID, err)
		return 0
	}
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(1, score))

	s.cache.SetDefault(key, score)
	return score
}
