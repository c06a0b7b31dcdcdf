package models

// Index identifies one of the spectral indices derived from an image.
type Index string

const (
	IndexNDVI Index = "ndvi" // vegetation
	IndexNDWI Index = "ndwi" // water
	IndexNDTI Index = "ndti" // turbidity
)

// AllIndices lists the indices in their canonical order.
var AllIndices = []Index{IndexNDVI, IndexNDWI, IndexNDTI}

// IndexStats is the regional mean and standard deviation of one index.
// Either value may be absent when the provider could not compute it.
type IndexStats struct {
	Mean   *float64 `json:"mean,omitempty"`
	StdDev *float64 `json:"stddev,omitempty"`
}

// SpectralIndices holds the statistics for all three indices of an image.
type SpectralIndices struct {
	NDVI IndexStats `json:"ndvi"`
	NDWI IndexStats `json:"ndwi"`
	NDTI IndexStats `json:"ndti"`
}

// Get returns the stats for the given index.
func (s SpectralIndices) Get(idx Index) IndexStats {
	switch idx {
	case IndexNDVI:
		return s.NDVI
	case IndexNDWI:
		return s.NDWI
	case IndexNDTI:
		return s.NDTI
	}
	return IndexStats{}
}

// Complete reports whether every index has a mean.
func (s SpectralIndices) Complete() bool {
	return s.NDVI.Mean != nil && s.NDWI.Mean != nil && s.NDTI.Mean != nil
}

// AnomalyScores holds per-index anomaly scores in [0,1].
// A nil score means "absent" and counts as 0 wherever it is combined.
type AnomalyScores struct {
	NDVI *float64 `json:"ndvi_anomaly_score,omitempty"`
	NDWI *float64 `json:"ndwi_anomaly_score,omitempty"`
	NDTI *float64 `json:"ndti_anomaly_score,omitempty"`
}

// Get returns the score for idx, or 0 when it is absent.
func (a AnomalyScores) Get(idx Index) float64 {
	var p *float64
	switch idx {
	case IndexNDVI:
		p = a.NDVI
	case IndexNDWI:
		p = a.NDWI
	case IndexNDTI:
		p = a.NDTI
	}
	if p == nil {
		return 0
	}
	return *p
}

// Max returns the largest present score, or 0.
func (a AnomalyScores) Max() float64 {
	m := 0.0
	for _, idx := range AllIndices {
		if v := a.Get(idx); v > m {
			m = v
		}
	}
	return m
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
