// Package risk estimates the monetary loss caused by a detected mining site.
package risk

import (
	"fmt"
	"math"

	"github.com/minewatch/minewatch/internal/models"
)

// Settings holds the financial model parameters. Amounts are in FCFA.
type Settings struct {
	CostPerHectare float64 `yaml:"cost_per_hectare"`

	// Intensity bonuses apply when an index anomaly score exceeds its threshold.
	NDVISeverityThreshold float64 `yaml:"ndvi_severity_threshold"`
	NDVIBonus             float64 `yaml:"ndvi_bonus"`
	NDWISeverityThreshold float64 `yaml:"ndwi_severity_threshold"`
	NDWIBonus             float64 `yaml:"ndwi_bonus"`
	NDTISeverityThreshold float64 `yaml:"ndti_severity_threshold"`
	NDTIBonus             float64 `yaml:"ndti_bonus"`

	// Distance bands in km from the nearest sensitive zone.
	NearDistanceKm     float64 `yaml:"near_distance_km"`
	NearFactor         float64 `yaml:"near_factor"`
	MediumDistanceKm   float64 `yaml:"medium_distance_km"`
	MediumFactor       float64 `yaml:"medium_factor"`
	FarFactor          float64 `yaml:"far_factor"`
	OccurrenceStep     float64 `yaml:"occurrence_step"`
	OccurrenceMax      float64 `yaml:"occurrence_max"`
	DefaultDistanceKm  float64 `yaml:"default_distance_km"`
	DefaultOccurrences int     `yaml:"default_occurrences"`

	// Minimum loss for each tier.
	CriticalThreshold float64 `yaml:"critical_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold"`
}

// DefaultSettings returns the production financial model.
func DefaultSettings() Settings {
	return Settings{
		CostPerHectare:        9_300_000,
		NDVISeverityThreshold: 0.7,
		NDVIBonus:             0.5,
		NDWISeverityThreshold: 0.5,
		NDWIBonus:             0.3,
		NDTISeverityThreshold: 0.6,
		NDTIBonus:             0.2,
		NearDistanceKm:        1,
		NearFactor:            2.0,
		MediumDistanceKm:      5,
		MediumFactor:          1.5,
		FarFactor:             1.0,
		OccurrenceStep:        0.2,
		OccurrenceMax:         2.0,
		DefaultDistanceKm:     2.0,
		DefaultOccurrences:    1,
		CriticalThreshold:     10_000_000,
		HighThreshold:         5_000_000,
		MediumThreshold:       1_000_000,
	}
}

// Validate checks that the tiers are ordered and amounts are non-negative.
func (s Settings) Validate() error {
	if s.CostPerHectare < 0 {
		return fmt.Errorf("cost_per_hectare must not be negative")
	}
	if !(s.CriticalThreshold >= s.HighThreshold && s.HighThreshold >= s.MediumThreshold && s.MediumThreshold >= 0) {
		return fmt.Errorf("risk thresholds must satisfy critical >= high >= medium >= 0")
	}
	if s.NearDistanceKm > s.MediumDistanceKm {
		return fmt.Errorf("near_distance_km must not exceed medium_distance_km")
	}
	return nil
}

// Input describes one detection to price.
type Input struct {
	AreaHectares        float64
	Scores              models.AnomalyScores
	SensitiveDistanceKm float64
	OccurrenceCount     int
}

// Assessment is the computed financial risk.
type Assessment struct {
	AreaHectares        float64
	CostPerHectare      float64
	IntensityFactor     float64
	DistanceFactor      float64
	OccurrenceFactor    float64
	EstimatedLoss       float64
	SensitiveDistanceKm float64
	OccurrenceCount     int
	Level               models.Severity
}

// Estimator prices detections with a fixed set of Settings.
type Estimator struct {
	settings Settings
}

// NewEstimator creates an estimator.
func NewEstimator(settings Settings) *Estimator {
	return &Estimator{settings: settings}
}

// Settings returns the estimator settings.
func (e *Estimator) Settings() Settings {
	return e.settings
}

// Estimate computes the loss and risk tier. Bonuses stack without a cap.
func (e *Estimator) Estimate(in Input) Assessment {
	intensity := e.IntensityFactor(in.Scores)
	distance := e.DistanceFactor(in.SensitiveDistanceKm)
	occurrence := e.OccurrenceFactor(in.OccurrenceCount)

	base := in.AreaHectares * e.settings.CostPerHectare * intensity
	loss := base * distance * occurrence

	return Assessment{
		AreaHectares:        in.AreaHectares,
		CostPerHectare:      e.settings.CostPerHectare,
		IntensityFactor:     intensity,
		DistanceFactor:      distance,
		OccurrenceFactor:    occurrence,
		EstimatedLoss:       loss,
		SensitiveDistanceKm: in.SensitiveDistanceKm,
		OccurrenceCount:     in.OccurrenceCount,
		Level:               e.Level(loss),
	}
}

// IntensityFactor is 1.0 plus every triggered per-index bonus.
func (e *Estimator) IntensityFactor(s models.AnomalyScores) float64 {
	f := 1.0
	if s.Get(models.IndexNDVI) > e.settings.NDVISeverityThreshold {
		f += e.settings.NDVIBonus
	}
	if s.Get(models.IndexNDWI) > e.settings.NDWISeverityThreshold {
		f += e.settings.NDWIBonus
	}
	if s.Get(models.IndexNDTI) > e.settings.NDTISeverityThreshold {
		f += e.settings.NDTIBonus
	}
	return f
}

// DistanceFactor maps the distance to the nearest sensitive zone onto its band.
func (e *Estimator) DistanceFactor(km float64) float64 {
	switch {
	case km < e.settings.NearDistanceKm:
		return e.settings.NearFactor
	case km < e.settings.MediumDistanceKm:
		return e.settings.MediumFactor
	default:
		return e.settings.FarFactor
	}
}

// OccurrenceFactor grows with repeated detections up to OccurrenceMax.
func (e *Estimator) OccurrenceFactor(count int) float64 {
	if count < 0 {
		count = 0
	}
	return math.Min(float64(count)*e.settings.OccurrenceStep+1, e.settings.OccurrenceMax)
}

// Level returns the highest tier whose threshold the loss meets.
func (e *Estimator) Level(loss float64) models.Severity {
	switch {
	case loss >= e.settings.CriticalThreshold:
		return models.SeverityCritical
	case loss >= e.settings.HighThreshold:
		return models.SeverityHigh
	case loss >= e.settings.MediumThreshold:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
