package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/models"
	apperrors "github.com/duetapp/duet/pkg/errors"
)

const checkInDayFormat = "2006-01-02"

// ErrCheckInNotFound indicates no check-in exists for the requested day.
var ErrCheckInNotFound = apperrors.New("CHECKIN_NOT_FOUND", "Check-in not found", http.StatusNotFound)

// CheckInInput captures a daily mood entry.
type CheckInInput struct {
	Mood   int
	Energy int
	Note   string
}

// CheckInService records and reads daily mood check-ins.
type CheckInService struct {
	db  *gorm.DB
	now func() time.Time
}

// CheckInOption customises CheckInService behaviour.
type CheckInOption func(*CheckInService)

// WithCheckInClock injects a custom clock primarily for testing.
func WithCheckInClock(clock func() time.Time) CheckInOption {
	return func(s *CheckInService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewCheckInService constructs a CheckInService instance.
func NewCheckInService(db *gorm.DB, opts ...CheckInOption) (*CheckInService, error) {
	if db == nil {
		return nil, errors.New("checkin service: db is required")
	}

	service := &CheckInService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Upsert records today's check-in, overwriting an earlier entry for the day.
func (s *CheckInService) Upsert(ctx context.Context, userID string, input CheckInInput) (*models.CheckIn, error) {
	ctx = ensureContext(ctx)

	if input.Mood < 1 || input.Mood > 5 {
		return nil, apperrors.NewBadRequest("mood must be between 1 and 5")
	}
	if input.Energy < 0 || input.Energy > 10 {
		return nil, apperrors.NewBadRequest("energy must be between 0 and 10")
	}

	day := s.now().UTC().Format(checkInDayFormat)

	var existing models.CheckIn
	err := s.db.WithContext(ctx).
		First(&existing, "user_id = ? AND day = ?", userID, day).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"mood":   input.Mood,
			"energy": input.Energy,
			"note":   input.Note,
		}
		if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("checkin service: update check-in: %w", err)
		}
		existing.Mood = input.Mood
		existing.Energy = input.Energy
		existing.Note = input.Note
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry := &models.CheckIn{
			UserID: userID,
			Day:    day,
			Mood:   input.Mood,
			Energy: input.Energy,
			Note:   input.Note,
		}
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			return nil, fmt.Errorf("checkin service: create check-in: %w", err)
		}
		return entry, nil
	default:
		return nil, fmt.Errorf("checkin service: load check-in: %w", err)
	}
}

// Today returns the user's check-in for the current day.
func (s *CheckInService) Today(ctx context.Context, userID string) (*models.CheckIn, error) {
	ctx = ensureContext(ctx)

	day := s.now().UTC().Format(checkInDayFormat)

	var entry models.CheckIn
	if err := s.db.WithContext(ctx).First(&entry, "user_id = ? AND day = ?", userID, day).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCheckInNotFound
		}
		return nil, fmt.Errorf("checkin service: load today: %w", err)
	}
	return &entry, nil
}

// ListRecent returns the user's check-ins for the last N days, newest first.
func (s *CheckInService) ListRecent(ctx context.Context, userID string, days int) ([]models.CheckIn, error) {
	ctx = ensureContext(ctx)
	return s.listRecent(ctx, []string{userID}, days)
}

// ListCoupleRecent returns recent check-ins for the user and their partner.
func (s *CheckInService) ListCoupleRecent(ctx context.Context, userID string, days int) ([]models.CheckIn, error) {
	ctx = ensureContext(ctx)

	ids := []string{userID}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("checkin service: load user: %w", err)
	}
	if user.HasPartner() {
		ids = append(ids, *user.PartnerID)
	}

	return s.listRecent(ctx, ids, days)
}

func (s *CheckInService) listRecent(ctx context.Context, userIDs []string, days int) ([]models.CheckIn, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().UTC().AddDate(0, 0, -days).Format(checkInDayFormat)

	var entries []models.CheckIn
	err := s.db.WithContext(ctx).
		Where("user_id IN ? AND day >= ?", userIDs, since).
		Order("day DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("checkin service: list check-ins: %w", err)
	}
	return entries, nil
}

// Streak counts consecutive days with a check-in, ending today or yesterday.
func (s *CheckInService) Streak(ctx context.Context, userID string) (int, error) {
	ctx = ensureContext(ctx)

	var entries []models.CheckIn
	err := s.db.WithContext(ctx).
		Select("day").
		Where("user_id = ?", userID).
		Order("day DESC").
		Limit(366).
		Find(&entries).Error
	if err != nil {
		return 0, fmt.Errorf("checkin service: load streak days: %w", err)
	}

	have := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		have[entry.Day] = struct{}{}
	}

	day := s.now().UTC()
	if _, ok := have[day.Format(checkInDayFormat)]; !ok {
		// A streak survives until the end of the current day.
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for {
		if _, ok := have[day.Format(checkInDayFormat)]; !ok {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak, nil
}
