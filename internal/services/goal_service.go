package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/models"
	apperrors "github.com/duetapp/duet/pkg/errors"
)

// ErrGoalNotFound indicates the goal does not exist or is outside the couple.
var ErrGoalNotFound = apperrors.New("GOAL_NOT_FOUND", "Goal not found", http.StatusNotFound)

// GoalNotifier receives goal lifecycle events for user-facing delivery.
type GoalNotifier interface {
	GoalCompleted(ctx context.Context, actor *models.User, partnerID string, goal *models.Goal)
}

// CreateGoalInput describes a new shared goal.
type CreateGoalInput struct {
	Title       string
	Description string
	Category    string
	TargetDate  *time.Time
}

// UpdateGoalInput enumerates mutable goal attributes.
type UpdateGoalInput struct {
	Title       *string
	Description *string
	Category    *string
	TargetDate  *time.Time
}

// GoalService manages the couple's shared goals. Goals are visible to their
// creator and, while a partner link exists, to the partner.
type GoalService struct {
	db       *gorm.DB
	notifier GoalNotifier
	now      func() time.Time
}

// GoalOption customises GoalService behaviour.
type GoalOption func(*GoalService)

// WithGoalNotifier injects the lifecycle event sink.
func WithGoalNotifier(notifier GoalNotifier) GoalOption {
	return func(s *GoalService) { s.notifier = notifier }
}

// WithGoalClock injects a custom clock primarily for testing.
func WithGoalClock(clock func() time.Time) GoalOption {
	return func(s *GoalService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewGoalService constructs a GoalService instance.
func NewGoalService(db *gorm.DB, opts ...GoalOption) (*GoalService, error) {
	if db == nil {
		return nil, errors.New("goal service: db is required")
	}

	service := &GoalService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create adds a goal owned by the caller's couple.
func (s *GoalService) Create(ctx context.Context, userID string, input CreateGoalInput) (*models.Goal, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.Title) == "" {
		return nil, apperrors.NewBadRequest("goal title is required")
	}

	goal := &models.Goal{
		CreatedBy:   userID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Category:    defaultIfEmpty(strings.TrimSpace(input.Category), "general"),
		TargetDate:  input.TargetDate,
	}
	if err := s.db.WithContext(ctx).Create(goal).Error; err != nil {
		return nil, fmt.Errorf("goal service: create goal: %w", err)
	}
	return goal, nil
}

// List returns the couple's goals, newest first.
func (s *GoalService) List(ctx context.Context, userID string) ([]models.Goal, error) {
	ctx = ensureContext(ctx)

	ids, err := s.coupleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	var goals []models.Goal
	err = s.db.WithContext(ctx).
		Where("created_by IN ?", ids).
		Order("created_at DESC").
		Find(&goals).Error
	if err != nil {
		return nil, fmt.Errorf("goal service: list goals: %w", err)
	}
	return goals, nil
}

// Get loads a single goal the caller's couple owns.
func (s *GoalService) Get(ctx context.Context, userID, goalID string) (*models.Goal, error) {
	ctx = ensureContext(ctx)
	return s.coupleGoal(ctx, userID, goalID)
}

// Update applies the supplied goal mutations.
func (s *GoalService) Update(ctx context.Context, userID, goalID string, input UpdateGoalInput) (*models.Goal, error) {
	ctx = ensureContext(ctx)

	goal, err := s.coupleGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return nil, apperrors.NewBadRequest("goal title is required")
		}
		updates["title"] = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.Category != nil {
		updates["category"] = defaultIfEmpty(strings.TrimSpace(*input.Category), "general")
	}
	if input.TargetDate != nil {
		updates["target_date"] = *input.TargetDate
	}
	if len(updates) == 0 {
		return goal, nil
	}

	if err := s.db.WithContext(ctx).Model(goal).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("goal service: update goal: %w", err)
	}
	return s.coupleGoal(ctx, userID, goalID)
}

// UpdateProgress sets the goal's progress; reaching 100 completes it.
func (s *GoalService) UpdateProgress(ctx context.Context, userID, goalID string, progress int) (*models.Goal, error) {
	ctx = ensureContext(ctx)

	if progress < 0 || progress > 100 {
		return nil, apperrors.NewBadRequest("progress must be between 0 and 100")
	}

	goal, err := s.coupleGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"progress": progress}
	completing := progress == 100 && !goal.Completed()
	if completing {
		updates["completed_at"] = s.now().UTC()
	}

	if err := s.db.WithContext(ctx).Model(goal).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("goal service: update progress: %w", err)
	}

	goal, err = s.coupleGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	if completing {
		s.notifyCompleted(ctx, userID, goal)
	}
	return goal, nil
}

// Complete marks the goal done regardless of its progress value.
func (s *GoalService) Complete(ctx context.Context, userID, goalID string) (*models.Goal, error) {
	ctx = ensureContext(ctx)

	goal, err := s.coupleGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	if goal.Completed() {
		return goal, nil
	}

	updates := map[string]any{"progress": 100, "completed_at": s.now().UTC()}
	if err := s.db.WithContext(ctx).Model(goal).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("goal service: complete goal: %w", err)
	}

	goal, err = s.coupleGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	s.notifyCompleted(ctx, userID, goal)
	return goal, nil
}

// Delete removes a goal the caller's couple owns.
func (s *GoalService) Delete(ctx context.Context, userID, goalID string) error {
	ctx = ensureContext(ctx)

	goal, err := s.coupleGoal(ctx, userID, goalID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(goal).Error; err != nil {
		return fmt.Errorf("goal service: delete goal: %w", err)
	}
	return nil
}

func (s *GoalService) notifyCompleted(ctx context.Context, userID string, goal *models.Goal) {
	if s.notifier == nil {
		return
	}

	var actor models.User
	if err := s.db.WithContext(ctx).First(&actor, "id = ?", userID).Error; err != nil {
		return
	}

	partnerID := ""
	if actor.HasPartner() {
		partnerID = *actor.PartnerID
	}
	s.notifier.GoalCompleted(ctx, &actor, partnerID, goal)
}

func (s *GoalService) coupleGoal(ctx context.Context, userID, goalID string) (*models.Goal, error) {
	ids, err := s.coupleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	var goal models.Goal
	err = s.db.WithContext(ctx).
		First(&goal, "id = ? AND created_by IN ?", goalID, ids).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGoalNotFound
		}
		return nil, fmt.Errorf("goal service: load goal: %w", err)
	}
	return &goal, nil
}

func (s *GoalService) coupleIDs(ctx context.Context, userID string) ([]string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("goal service: load user: %w", err)
	}

	ids := []string{user.ID}
	if user.HasPartner() {
		ids = append(ids, *user.PartnerID)
	}
	return ids, nil
}
