package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetapp/duet/internal/models"
)

func TestCheckInUpsertSameDay(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	service, err := NewCheckInService(db, WithCheckInClock(clock.Now))
	require.NoError(t, err)

	user := createTestUser(t, db, "mood@example.com")

	first, err := service.Upsert(context.Background(), user.ID, CheckInInput{Mood: 3, Energy: 5, Note: "meh"})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", first.Day)

	second, err := service.Upsert(context.Background(), user.ID, CheckInInput{Mood: 5, Energy: 8, Note: "better"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Mood)

	entries, err := service.ListRecent(context.Background(), user.ID, 7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "better", entries[0].Note)
}

func TestCheckInRejectsOutOfRangeMood(t *testing.T) {
	db := openServiceTestDB(t)
	service, err := NewCheckInService(db)
	require.NoError(t, err)
	user := createTestUser(t, db, "mood@example.com")

	_, err = service.Upsert(context.Background(), user.ID, CheckInInput{Mood: 0})
	require.Error(t, err)

	_, err = service.Upsert(context.Background(), user.ID, CheckInInput{Mood: 6})
	require.Error(t, err)
}

func TestCheckInCoupleRecentIncludesPartner(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	service, err := NewCheckInService(db, WithCheckInClock(clock.Now))
	require.NoError(t, err)

	a := createTestUser(t, db, "a@example.com")
	b := createTestUser(t, db, "b@example.com")
	stranger := createTestUser(t, db, "stranger@example.com")
	require.NoError(t, db.Model(a).Update("partner_id", b.ID).Error)
	require.NoError(t, db.Model(b).Update("partner_id", a.ID).Error)

	_, err = service.Upsert(context.Background(), a.ID, CheckInInput{Mood: 4})
	require.NoError(t, err)
	_, err = service.Upsert(context.Background(), b.ID, CheckInInput{Mood: 2})
	require.NoError(t, err)
	_, err = service.Upsert(context.Background(), stranger.ID, CheckInInput{Mood: 1})
	require.NoError(t, err)

	entries, err := service.ListCoupleRecent(context.Background(), a.ID, 7)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCheckInStreak(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC))
	service, err := NewCheckInService(db, WithCheckInClock(clock.Now))
	require.NoError(t, err)

	user := createTestUser(t, db, "streak@example.com")

	// Three consecutive days ending yesterday, with a gap before them.
	for _, day := range []string{"2025-06-07", "2025-06-08", "2025-06-09", "2025-06-04"} {
		require.NoError(t, db.Create(&models.CheckIn{UserID: user.ID, Day: day, Mood: 3}).Error)
	}

	streak, err := service.Streak(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, streak)

	// Checking in today extends the streak.
	_, err = service.Upsert(context.Background(), user.ID, CheckInInput{Mood: 4})
	require.NoError(t, err)

	streak, err = service.Streak(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, streak)
}
