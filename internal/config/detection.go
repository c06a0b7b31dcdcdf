package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/minewatch/minewatch/internal/alerts"
	"github.com/minewatch/minewatch/internal/risk"
	"github.com/minewatch/minewatch/internal/scoring"
)

// DetectionSettings groups the tunable parameters of the detection pipeline
type DetectionSettings struct {
	AlgorithmVersion string            `yaml:"algorithm_version"`
	Scoring          scoring.Config    `yaml:"scoring"`
	Financial        risk.Settings     `yaml:"financial"`
	Alerts           alerts.Thresholds `yaml:"alerts"`
	Imagery          ImagerySettings   `yaml:"imagery"`
}

// ImagerySettings controls which assets the orchestrator considers
type ImagerySettings struct {
	Collection       string  `yaml:"collection"`
	MaxCloudCoverage float64 `yaml:"max_cloud_coverage"`
	MaxImagesPerRun  int     `yaml:"max_images_per_run"`
	PatchSize        int     `yaml:"patch_size"`
	PatchScale       int     `yaml:"patch_scale"`
}

// DefaultDetectionSettings returns the production defaults
func DefaultDetectionSettings() DetectionSettings {
	return DetectionSettings{
		AlgorithmVersion: "1.0",
		Scoring:          scoring.DefaultConfig(),
		Financial:        risk.DefaultSettings(),
		Alerts:           alerts.DefaultThresholds(),
		Imagery: ImagerySettings{
			Collection:       "COPERNICUS/S2_SR_HARMONIZED",
			MaxCloudCoverage: 20,
			MaxImagesPerRun:  5,
			PatchSize:        48,
			PatchScale:       10,
		},
	}
}

// Validate checks every section
func (s DetectionSettings) Validate() error {
	if err := s.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := s.Financial.Validate(); err != nil {
		return fmt.Errorf("financial: %w", err)
	}
	if err := s.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if s.Imagery.MaxImagesPerRun < 1 {
		return fmt.Errorf("imagery: max_images_per_run must be at least 1")
	}
	if s.Imagery.MaxCloudCoverage < 0 || s.Imagery.MaxCloudCoverage > 100 {
		return fmt.Errorf("imagery: max_cloud_coverage must be within [0,100]")
	}
	return nil
}

// LoadDetectionSettings reads a YAML file over the defaults. An empty path
// returns the defaults.
func LoadDetectionSettings(path string) (DetectionSettings, error) {
	settings := DefaultDetectionSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read detection settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse detection settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid detection settings: %w", err)
	}
	return settings, nil
}
