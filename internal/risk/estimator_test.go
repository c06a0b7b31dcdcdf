package risk

import (
	"math"
	"testing"

	"github.com/minewatch/minewatch/internal/models"
)

func TestEstimate_CriticalNearSensitiveZone(t *testing.T) {
	e := NewEstimator(DefaultSettings())

	got := e.Estimate(Input{
		AreaHectares:        2.0,
		Scores:              models.AnomalyScores{NDVI: models.Float(0.75)},
		SensitiveDistanceKm: 0.5,
		OccurrenceCount:     1,
	})

	if got.IntensityFactor != 1.5 {
		t.Errorf("IntensityFactor = %v, want 1.5", got.IntensityFactor)
	}
	if got.DistanceFactor != 2.0 {
		t.Errorf("DistanceFactor = %v, want 2.0", got.DistanceFactor)
	}
	if math.Abs(got.OccurrenceFactor-1.2) > 1e-9 {
		t.Errorf("OccurrenceFactor = %v, want 1.2", got.OccurrenceFactor)
	}
	if math.Abs(got.EstimatedLoss-66_960_000) > 1e-3 {
		t.Errorf("EstimatedLoss = %v, want 66960000", got.EstimatedLoss)
	}
	if got.Level != models.SeverityCritical {
		t.Errorf("Level = %v, want CRITICAL", got.Level)
	}
}

func TestIntensityFactor_StacksWithoutCap(t *testing.T) {
	e := NewEstimator(DefaultSettings())

	all := models.AnomalyScores{NDVI: models.Float(0.9), NDWI: models.Float(0.9), NDTI: models.Float(0.9)}
	if got := e.IntensityFactor(all); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("IntensityFactor(all) = %v, want 2.0", got)
	}

	s := DefaultSettings()
	s.NDVIBonus, s.NDWIBonus, s.NDTIBonus = 3, 3, 3
	if got := NewEstimator(s).IntensityFactor(all); got != 10 {
		t.Errorf("IntensityFactor with large bonuses = %v, want 10", got)
	}

	atThreshold := models.AnomalyScores{NDVI: models.Float(0.7), NDWI: models.Float(0.5), NDTI: models.Float(0.6)}
	if got := e.IntensityFactor(atThreshold); got != 1.0 {
		t.Errorf("scores equal to thresholds should not add a bonus, got %v", got)
	}
}

func TestDistanceFactor(t *testing.T) {
	e := NewEstimator(DefaultSettings())
	tests := []struct {
		km   float64
		want float64
	}{
		{0, 2.0}, {0.99, 2.0}, {1, 1.5}, {4.99, 1.5}, {5, 1.0}, {40, 1.0},
	}
	for _, tt := range tests {
		if got := e.DistanceFactor(tt.km); got != tt.want {
			t.Errorf("DistanceFactor(%v) = %v, want %v", tt.km, got, tt.want)
		}
	}
}

func TestOccurrenceFactor(t *testing.T) {
	e := NewEstimator(DefaultSettings())
	tests := []struct {
		count int
		want  float64
	}{
		{-1, 1.0}, {0, 1.0}, {1, 1.2}, {3, 1.6}, {5, 2.0}, {50, 2.0},
	}
	for _, tt := range tests {
		if got := e.OccurrenceFactor(tt.count); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("OccurrenceFactor(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestLevel_TotalAndMonotonic(t *testing.T) {
	e := NewEstimator(DefaultSettings())

	tests := []struct {
		loss float64
		want models.Severity
	}{
		{0, models.SeverityLow},
		{999_999, models.SeverityLow},
		{1_000_000, models.SeverityMedium},
		{5_000_000, models.SeverityHigh},
		{9_999_999, models.SeverityHigh},
		{10_000_000, models.SeverityCritical},
		{1e12, models.SeverityCritical},
	}
	for _, tt := range tests {
		if got := e.Level(tt.loss); got != tt.want {
			t.Errorf("Level(%v) = %v, want %v", tt.loss, got, tt.want)
		}
	}

	prev := -1
	for loss := 0.0; loss < 20_000_000; loss += 250_000 {
		r := e.Level(loss).Rank()
		if r < 0 {
			t.Fatalf("Level(%v) returned unknown tier", loss)
		}
		if r < prev {
			t.Fatalf("tier decreased at loss %v", loss)
		}
		prev = r
	}
}

func TestSettings_Validate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	s := DefaultSettings()
	s.HighThreshold = s.CriticalThreshold + 1
	if err := s.Validate(); err == nil {
		t.Error("expected error for unordered thresholds")
	}
}
