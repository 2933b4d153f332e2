// Package dbtest opens a migrated SQLite database for package tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/database"
	"github.com/spacehub/spacehub-api/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh file-backed database. A single connection keeps
// SQLite writers from failing with SQLITE_BUSY when tests run goroutines.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, "_busy_timeout=5000&_foreign_keys=off", 1)
}

// OpenConcurrent returns a WAL database with several pooled connections so
// goroutines reach the store in parallel. Transactions begin IMMEDIATE and
// wait on the busy timeout instead of failing on a lock upgrade.
func OpenConcurrent(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, "_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate&_foreign_keys=off", 8)
}

func open(t testing.TB, params string, maxConns int) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "spacehub.db") + "?" + params
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUser inserts a user whose password is "password123".
func CreateUser(t testing.TB, db *gorm.DB, email string, role models.Role) models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	user := models.User{Email: email, Password: string(hash), FirstName: "Test", LastName: string(role), Role: role}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func CreateCourse(t testing.TB, db *gorm.DB, instructor models.User, title string, price int64) models.Course {
	t.Helper()

	course := models.Course{
		InstructorID: instructor.ID,
		Title:        title,
		Slug:         fmt.Sprintf("course-%s", uuid.NewString()[:8]),
		Price:        price,
		Currency:     "NGN",
		IsPublished:  true,
	}
	require.NoError(t, db.Create(&course).Error)
	return course
}
