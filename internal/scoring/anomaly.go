// Package scoring turns spectral index statistics into anomaly scores and
// detection confidence.
package scoring

import (
	"math"

	"github.com/minewatch/minewatch/internal/models"
)

const (
	// DefaultEpsilon guards the division when a reference stddev is zero.
	DefaultEpsilon = 1e-6

	// DefaultReferenceStdDev is used when the reference image has a mean but no stddev.
	DefaultReferenceStdDev = 0.1
)

// ScoreAnomalies compares the current image against a reference image and
// returns one score in [0,1] per index. An index whose mean is missing on
// either side scores 0. Pure and deterministic.
func ScoreAnomalies(current, reference models.SpectralIndices, eps float64) models.AnomalyScores {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	return models.AnomalyScores{
		NDVI: models.Float(scoreIndex(current.NDVI, reference.NDVI, eps)),
		NDWI: models.Float(scoreIndex(current.NDWI, reference.NDWI, eps)),
		NDTI: models.Float(scoreIndex(current.NDTI, reference.NDTI, eps)),
	}
}

func scoreIndex(cur, ref models.IndexStats, eps float64) float64 {
	if cur.Mean == nil || ref.Mean == nil {
		return 0
	}
	std := DefaultReferenceStdDev
	if ref.StdDev != nil {
		std = *ref.StdDev
	}
	std = math.Max(std, eps)
	z := math.Abs(*cur.Mean-*ref.Mean) / std
	if math.IsNaN(z) {
		return 0
	}
	return clamp01(z)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// EstimateAffectedArea approximates the disturbed surface in hectares from
// the strongest index anomaly, capped at 50 ha.
func EstimateAffectedArea(scores models.AnomalyScores) float64 {
	return math.Min(scores.Max()*50, 50)
}
