package database

import (
	"context"
	"fmt"
	"log/slog"

	config "github.com/spacehub/spacehub-api/configs"
	"github.com/spacehub/spacehub-api/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// activeEnrollmentIndex allows one non-failed enrollment per student and
// course. It is the store-level guard behind duplicate enrollment and the
// single completed row per pair.
const activeEnrollmentIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_enrollments_active
	ON enrollments (student_id, course_id) WHERE payment_status <> 'failed'`

func ConnectDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:                              false,
		SkipDefaultTransaction:                   true,
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)

	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.Course{},
		&models.Enrollment{},
		&models.PaymentRecord{},
		&models.Certificate{},
		&models.Lead{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(activeEnrollmentIndex).Error; err != nil {
		return fmt.Errorf("create enrollment index: %w", err)
	}
	return nil
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SeedAdmin creates the configured admin account on first boot.
func SeedAdmin(db *gorm.DB, cfg *config.Config, log *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		log.Info("admin seed skipped, ADMIN_EMAIL or ADMIN_PASSWORD not set")
		return nil
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", cfg.AdminEmail).Count(&count).Error; err != nil {
		return fmt.Errorf("check admin user: %w", err)
	}
	if count > 0 {
		log.Info("admin user already exists")
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := models.User{
		Email:     cfg.AdminEmail,
		Password:  string(hashedPassword),
		FirstName: cfg.AdminFirstName,
		LastName:  cfg.AdminLastName,
		Role:      models.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}

	log.Info("admin user seeded", "email", admin.Email)
	return nil
}
