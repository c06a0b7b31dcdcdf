package scoring

import (
	"fmt"

	"github.com/minewatch/minewatch/internal/models"
)

// Config carries the weights and thresholds used by the Combiner.
type Config struct {
	// Per-index weights for the anomaly confidence.
	NDVIWeight float64 `yaml:"ndvi_weight"`
	NDWIWeight float64 `yaml:"ndwi_weight"`
	NDTIWeight float64 `yaml:"ndti_weight"`

	// Weights for blending anomaly confidence with the ML score.
	AnomalyWeight float64 `yaml:"anomaly_weight"`
	MLWeight      float64 `yaml:"ml_weight"`

	// Detection thresholds; a score strictly above any of them triggers a detection.
	NDVIThreshold float64 `yaml:"ndvi_threshold"`
	NDWIThreshold float64 `yaml:"ndwi_threshold"`
	NDTIThreshold float64 `yaml:"ndti_threshold"`
	MLThreshold   float64 `yaml:"ml_threshold"`

	Epsilon float64 `yaml:"epsilon"`
}

// DefaultConfig returns the production weights and thresholds.
func DefaultConfig() Config {
	return Config{
		NDVIWeight:    0.4,
		NDWIWeight:    0.3,
		NDTIWeight:    0.3,
		AnomalyWeight: 0.6,
		MLWeight:      0.4,
		NDVIThreshold: 0.3,
		NDWIThreshold: 0.2,
		NDTIThreshold: 0.4,
		MLThreshold:   0.5,
		Epsilon:       DefaultEpsilon,
	}
}

// Validate rejects negative weights and thresholds outside [0,1].
// Weights that do not sum to 1 are accepted; the outputs are clamped.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"ndvi_weight":    c.NDVIWeight,
		"ndwi_weight":    c.NDWIWeight,
		"ndti_weight":    c.NDTIWeight,
		"anomaly_weight": c.AnomalyWeight,
		"ml_weight":      c.MLWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, w)
		}
	}
	for name, th := range map[string]float64{
		"ndvi_threshold": c.NDVIThreshold,
		"ndwi_threshold": c.NDWIThreshold,
		"ndti_threshold": c.NDTIThreshold,
		"ml_threshold":   c.MLThreshold,
	} {
		if th < 0 || th > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, th)
		}
	}
	return nil
}

// Evaluation is the outcome of scoring one image against its reference.
type Evaluation struct {
	Scores            models.AnomalyScores
	MLScore           float64
	AnomalyConfidence float64
	Confidence        float64
	Detected          bool
}

// Combiner blends anomaly scores and the ML score into a confidence.
type Combiner struct {
	cfg Config
}

// NewCombiner creates a combiner with the given configuration.
func NewCombiner(cfg Config) *Combiner {
	return &Combiner{cfg: cfg}
}

// Config returns the combiner configuration.
func (c *Combiner) Config() Config {
	return c.cfg
}

// AnomalyConfidence is the weighted sum of the index scores, clamped to [0,1].
func (c *Combiner) AnomalyConfidence(s models.AnomalyScores) float64 {
	sum := c.cfg.NDVIWeight*s.Get(models.IndexNDVI) +
		c.cfg.NDWIWeight*s.Get(models.IndexNDWI) +
		c.cfg.NDTIWeight*s.Get(models.IndexNDTI)
	return clamp01(sum)
}

// Combine blends anomaly confidence and the ML score, clamped to [0,1].
func (c *Combiner) Combine(anomalyConfidence, mlScore float64) float64 {
	return clamp01(c.cfg.AnomalyWeight*anomalyConfidence + c.cfg.MLWeight*mlScore)
}

// ShouldDetect reports whether any single index score or the ML score
// exceeds its threshold.
func (c *Combiner) ShouldDetect(s models.AnomalyScores, mlScore float64) bool {
	return s.Get(models.IndexNDVI) > c.cfg.NDVIThreshold ||
		s.Get(models.IndexNDWI) > c.cfg.NDWIThreshold ||
		s.Get(models.IndexNDTI) > c.cfg.NDTIThreshold ||
		mlScore > c.cfg.MLThreshold
}

// Evaluate runs all three steps.
func (c *Combiner) Evaluate(s models.AnomalyScores, mlScore float64) Evaluation {
	ac := c.AnomalyConfidence(s)
	return Evaluation{
		Scores:            s,
		MLScore:           mlScore,
		AnomalyConfidence: ac,
		Confidence:        c.Combine(ac, mlScore),
		Detected:          c.ShouldDetect(s, mlScore),
	}
}
