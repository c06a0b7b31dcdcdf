package database

import (
	"time"

	"github.com/minewatch/minewatch/internal/models"
)

// ImageStatus is the processing state of a satellite image
type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "PENDING"
	ImageStatusProcessing ImageStatus = "PROCESSING"
	ImageStatusCompleted  ImageStatus = "COMPLETED"
	ImageStatusError      ImageStatus = "ERROR"
)

// IsTerminal reports whether no further processing is expected
func (s ImageStatus) IsTerminal() bool {
	return s == ImageStatusCompleted || s == ImageStatusError
}

// Image is one satellite observation of a region. AssetID is unique, so an
// asset never has more than one record and therefore never more than one
// in-flight attempt.
type Image struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	AssetID         string      `gorm:"uniqueIndex;size:255;not null" json:"asset_id"`
	RegionID        uint        `gorm:"not null;index" json:"region_id"`
	Name            string      `gorm:"size:255" json:"name"`
	CaptureDate     time.Time   `gorm:"index" json:"capture_date"`
	SatelliteSource string      `gorm:"size:50" json:"satellite_source"`
	CloudCoverage   float64     `json:"cloud_coverage"`
	Resolution      float64     `json:"resolution"`
	CenterLat       float64     `json:"center_lat"`
	CenterLon       float64     `json:"center_lon"`
	NDVIMean        *float64    `gorm:"column:ndvi_mean" json:"ndvi_mean,omitempty"`
	NDVIStdDev      *float64    `gorm:"column:ndvi_std_dev" json:"ndvi_stddev,omitempty"`
	NDWIMean        *float64    `gorm:"column:ndwi_mean" json:"ndwi_mean,omitempty"`
	NDWIStdDev      *float64    `gorm:"column:ndwi_std_dev" json:"ndwi_stddev,omitempty"`
	NDTIMean        *float64    `gorm:"column:ndti_mean" json:"ndti_mean,omitempty"`
	NDTIStdDev      *float64    `gorm:"column:ndti_std_dev" json:"ndti_stddev,omitempty"`
	Status          ImageStatus `gorm:"size:20;not null;index" json:"processing_status"`
	ProcessingError string      `gorm:"type:text" json:"processing_error,omitempty"`
	Attempts        int         `gorm:"not null;default:0" json:"attempts"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	ProcessedAt     *time.Time  `json:"processed_at,omitempty"`
	AnalyzedAt      *time.Time  `json:"analyzed_at,omitempty"`
	RequestedByID   *uint       `json:"requested_by_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	Region Region `gorm:"foreignKey:RegionID" json:"region,omitempty"`
}

// TableName specifies the table name
func (Image) TableName() string {
	return "satellite_images"
}

// Indices returns the stored spectral statistics
func (i *Image) Indices() models.SpectralIndices {
	return models.SpectralIndices{
		NDVI: models.IndexStats{Mean: i.NDVIMean, StdDev: i.NDVIStdDev},
		NDWI: models.IndexStats{Mean: i.NDWIMean, StdDev: i.NDWIStdDev},
		NDTI: models.IndexStats{Mean: i.NDTIMean, StdDev: i.NDTIStdDev},
	}
}

// SetIndices copies the spectral statistics onto the record
func (i *Image) SetIndices(s models.SpectralIndices) {
	i.NDVIMean, i.NDVIStdDev = s.NDVI.Mean, s.NDVI.StdDev
	i.NDWIMean, i.NDWIStdDev = s.NDWI.Mean, s.NDWI.StdDev
	i.NDTIMean, i.NDTIStdDev = s.NDTI.Mean, s.NDTI.StdDev
}
