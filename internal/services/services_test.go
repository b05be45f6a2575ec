package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/models"
)

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.PairingCredential{},
		&models.CheckIn{},
		&models.Goal{},
		&models.Conflict{},
		&models.Notification{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		Email:       email,
		Password:    "not-a-real-hash",
		DisplayName: email,
		IsActive:    true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// testClock is a mutable clock for deadline-sensitive tests.
type testClock struct {
	current time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{current: at}
}

func (c *testClock) Now() time.Time { return c.current }

func (c *testClock) Advance(d time.Duration) { c.current = c.current.Add(d) }
