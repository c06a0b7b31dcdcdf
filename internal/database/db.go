package database

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a database. DSNs starting with "sqlite://" or "file:" open an
// SQLite database, anything else PostgreSQL.
func Open(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(sqliteDSN(strings.TrimPrefix(dsn, "sqlite://")))
	case strings.HasPrefix(dsn, "file:"):
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// SQLite allows a single writer; serialise through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// Models lists every persisted model in migration order
func Models() []interface{} {
	return []interface{}{
		&Region{},
		&User{},
		&Image{},
		&Detection{},
		&Alert{},
		&FinancialRisk{},
		&Investigation{},
		&DetectionFeedback{},
		&EventLog{},
	}
}

// Migrate runs database migrations on db
func Migrate(db *gorm.DB) error {
	log.Println("Running database migrations...")
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Database migrations completed successfully")
	return nil
}

// DefaultRegion is the monitored region seeded on first start
func DefaultRegion() Region {
	return Region{
		Name:      "BONDOUKOU",
		Code:      "BDK",
		AreaKm2:   12000,
		CenterLat: 8.0402,
		CenterLon: -2.8000,
		MinLat:    7.9,
		MaxLat:    8.2,
		MinLon:    -3.0,
		MaxLon:    -2.6,
	}
}

// InitializeDefaults creates the default region and, when a password hash is
// given, the administrator account.
func InitializeDefaults(db *gorm.DB, adminEmail, adminPasswordHash string) error {
	log.Println("Initializing default database records...")

	region := DefaultRegion()
	if err := db.Where(Region{Code: region.Code}).FirstOrCreate(&region).Error; err != nil {
		return fmt.Errorf("failed to create default region: %w", err)
	}

	if adminPasswordHash == "" {
		log.Println("Warning: ADMIN_PASSWORD not set, skipping administrator account")
		return nil
	}

	var admin User
	err := db.Where("email = ?", adminEmail).First(&admin).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up administrator: %w", err)
	}

	admin = User{
		Email:        adminEmail,
		FirstName:    "Admin",
		PasswordHash: adminPasswordHash,
		Role:         RoleAdministrator,
		Active:       true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}
	log.Printf("Created administrator account %s", adminEmail)
	return nil
}

// GetRegionByCode loads a region by its short code
func GetRegionByCode(db *gorm.DB, code string) (*Region, error) {
	var region Region
	if err := db.Where("code = ?", code).First(&region).Error; err != nil {
		return nil, err
	}
	return &region, nil
}

// DeleteDetection removes a detection together with its alerts, financial
// risk and investigation. Feedback records are kept.
func DeleteDetection(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("detection_id = ?", id).Delete(&Alert{}).Error; err != nil {
			return err
		}
		if err := tx.Where("detection_id = ?", id).Delete(&FinancialRisk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("detection_id = ?", id).Delete(&Investigation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Detection{}, id).Error
	})
}
