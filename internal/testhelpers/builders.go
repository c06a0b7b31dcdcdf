package testhelpers

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
)

var seq atomic.Int64

func next() int64 {
	return seq.Add(1)
}

// CreateRegion inserts the default region
func CreateRegion(t *testing.T, db *gorm.DB) database.Region {
	t.Helper()
	r := database.DefaultRegion()
	MustCreate(t, db, &r)
	return r
}

// ========================================
// User Builder
// ========================================

// UserBuilder builds User instances for testing
type UserBuilder struct {
	user database.User
}

// NewUserBuilder creates an active field agent with a unique email
func NewUserBuilder() *UserBuilder {
	n := next()
	return &UserBuilder{
		user: database.User{
			Email:     fmt.Sprintf("agent%d@minewatch.test", n),
			FirstName: "Agent",
			LastName:  fmt.Sprintf("%d", n),
			Role:      database.RoleFieldAgent,
			Active:    true,
		},
	}
}

// WithEmail sets the email
func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.user.Email = email
	return b
}

// WithRole sets the role
func (b *UserBuilder) WithRole(role database.UserRole) *UserBuilder {
	b.user.Role = role
	return b
}

// WithPasswordHash sets the bcrypt hash
func (b *UserBuilder) WithPasswordHash(hash string) *UserBuilder {
	b.user.PasswordHash = hash
	return b
}

// Inactive marks the user inactive
func (b *UserBuilder) Inactive() *UserBuilder {
	b.user.Active = false
	return b
}

// Build returns the constructed user
func (b *UserBuilder) Build() database.User {
	return b.user
}

// Create inserts the user
func (b *UserBuilder) Create(t *testing.T, db *gorm.DB) database.User {
	t.Helper()
	u := b.user
	MustCreate(t, db, &u)
	return u
}

// ========================================
// Image Builder
// ========================================

// ImageBuilder builds Image instances for testing
type ImageBuilder struct {
	image database.Image
}

// NewImageBuilder creates a PENDING image in the region
func NewImageBuilder(regionID uint) *ImageBuilder {
	n := next()
	return &ImageBuilder{
		image: database.Image{
			AssetID:         fmt.Sprintf("COPERNICUS/S2_SR_HARMONIZED/T%06d", n),
			RegionID:        regionID,
			Name:            fmt.Sprintf("image-%d", n),
			CaptureDate:     time.Now().AddDate(0, 0, -int(n%90)),
			SatelliteSource: "SENTINEL2",
			CloudCoverage:   5,
			Resolution:      10,
			CenterLat:       8.0402,
			CenterLon:       -2.8,
			Status:          database.ImageStatusPending,
		},
	}
}

// WithAssetID sets the asset id
func (b *ImageBuilder) WithAssetID(id string) *ImageBuilder {
	b.image.AssetID = id
	return b
}

// WithStatus sets the processing status
func (b *ImageBuilder) WithStatus(status database.ImageStatus) *ImageBuilder {
	b.image.Status = status
	return b
}

// WithCaptureDate sets the capture date
func (b *ImageBuilder) WithCaptureDate(d time.Time) *ImageBuilder {
	b.image.CaptureDate = d
	return b
}

// WithMeans sets every index mean with a fixed stddev
func (b *ImageBuilder) WithMeans(ndvi, ndwi, ndti, stddev float64) *ImageBuilder {
	b.image.SetIndices(models.SpectralIndices{
		NDVI: models.IndexStats{Mean: models.Float(ndvi), StdDev: models.Float(stddev)},
		NDWI: models.IndexStats{Mean: models.Float(ndwi), StdDev: models.Float(stddev)},
		NDTI: models.IndexStats{Mean: models.Float(ndti), StdDev: models.Float(stddev)},
	})
	return b
}

// Analyzed marks the image as already analysed
func (b *ImageBuilder) Analyzed() *ImageBuilder {
	now := time.Now()
	b.image.AnalyzedAt = &now
	return b
}

// Build returns the constructed image
func (b *ImageBuilder) Build() database.Image {
	return b.image
}

// Create inserts the image
func (b *ImageBuilder) Create(t *testing.T, db *gorm.DB) database.Image {
	t.Helper()
	img := b.image
	MustCreate(t, db, &img)
	return img
}

// ========================================
// Detection Builder
// ========================================

// DetectionBuilder builds Detection instances for testing
type DetectionBuilder struct {
	detection database.Detection
}

// NewDetectionBuilder creates an unreviewed detection on an image
func NewDetectionBuilder(imageID, regionID uint) *DetectionBuilder {
	return &DetectionBuilder{
		detection: database.Detection{
			ImageID:           imageID,
			RegionID:          regionID,
			Latitude:          8.0402,
			Longitude:         -2.8,
			Type:              database.DetectionTypeMiningSite,
			NDVIAnomalyScore:  models.Float(0.8),
			NDWIAnomalyScore:  models.Float(0.1),
			NDTIAnomalyScore:  models.Float(0.1),
			AnomalyConfidence: 0.38,
			MLScore:           0.9,
			ConfidenceScore:   0.588,
			AreaHectares:      40,
			ValidationStatus:  database.ValidationDetected,
			AlgorithmVersion:  "1.0",
			DetectionDate:     time.Now(),
		},
	}
}

// WithConfidence sets the combined confidence
func (b *DetectionBuilder) WithConfidence(c float64) *DetectionBuilder {
	b.detection.ConfidenceScore = c
	return b
}

// WithScores sets the anomaly scores
func (b *DetectionBuilder) WithScores(ndvi, ndwi, ndti float64) *DetectionBuilder {
	b.detection.NDVIAnomalyScore = models.Float(ndvi)
	b.detection.NDWIAnomalyScore = models.Float(ndwi)
	b.detection.NDTIAnomalyScore = models.Float(ndti)
	return b
}

// WithArea sets the affected area in hectares
func (b *DetectionBuilder) WithArea(ha float64) *DetectionBuilder {
	b.detection.AreaHectares = ha
	return b
}

// WithValidationStatus sets the review state
func (b *DetectionBuilder) WithValidationStatus(s database.ValidationStatus) *DetectionBuilder {
	b.detection.ValidationStatus = s
	return b
}

// WithType sets the detection type
func (b *DetectionBuilder) WithType(t database.DetectionType) *DetectionBuilder {
	b.detection.Type = t
	return b
}

// WithDetectionDate sets when the detection was made
func (b *DetectionBuilder) WithDetectionDate(d time.Time) *DetectionBuilder {
	b.detection.DetectionDate = d
	return b
}

// Build returns the constructed detection
func (b *DetectionBuilder) Build() database.Detection {
	return b.detection
}

// Create inserts the detection
func (b *DetectionBuilder) Create(t *testing.T, db *gorm.DB) database.Detection {
	t.Helper()
	d := b.detection
	MustCreate(t, db, &d)
	return d
}

// ========================================
// Investigation Builder
// ========================================

// InvestigationBuilder builds Investigation instances for testing
type InvestigationBuilder struct {
	investigation database.Investigation
}

// NewInvestigationBuilder creates a PENDING, unassigned investigation
func NewInvestigationBuilder(detectionID uint) *InvestigationBuilder {
	return &InvestigationBuilder{
		investigation: database.Investigation{
			Reference:         uuid.NewString(),
			DetectionID:       detectionID,
			TargetCoordinates: "8.0402, -2.8000",
			Priority:          database.PriorityMedium,
			Status:            database.InvestigationPending,
		},
	}
}

// WithStatus sets the workflow state
func (b *InvestigationBuilder) WithStatus(s database.InvestigationStatus) *InvestigationBuilder {
	b.investigation.Status = s
	return b
}

// AssignedTo sets the assignee and moves the investigation to ASSIGNED
func (b *InvestigationBuilder) AssignedTo(agentID uint) *InvestigationBuilder {
	now := time.Now()
	b.investigation.AssignedToID = &agentID
	b.investigation.AssignedAt = &now
	if b.investigation.Status == database.InvestigationPending {
		b.investigation.Status = database.InvestigationAssigned
	}
	return b
}

// Build returns the constructed investigation
func (b *InvestigationBuilder) Build() database.Investigation {
	return b.investigation
}

// Create inserts the investigation
func (b *InvestigationBuilder) Create(t *testing.T, db *gorm.DB) database.Investigation {
	t.Helper()
	inv := b.investigation
	MustCreate(t, db, &inv)
	return inv
}

// CreateDetectionChain inserts a completed image and a detection on it
func CreateDetectionChain(t *testing.T, db *gorm.DB, regionID uint) (database.Image, database.Detection) {
	t.Helper()
	img := NewImageBuilder(regionID).WithStatus(database.ImageStatusCompleted).WithMeans(0.5, 0.1, 0.2, 0.1).Create(t, db)
	det := NewDetectionBuilder(img.ID, regionID).Create(t, db)
	return img, det
}
