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
	"github.com/duetapp/duet/pkg/crypto"
	apperrors "github.com/duetapp/duet/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken signals the registration email is already in use.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "An account already exists for this email", http.StatusConflict)
)

// CreateUserInput describes the fields accepted when registering an account.
type CreateUserInput struct {
	Email       string
	Password    string
	DisplayName string
	Avatar      string
}

// UpdateProfileInput enumerates mutable profile attributes.
type UpdateProfileInput struct {
	DisplayName        *string
	Avatar             *string
	OnboardingComplete *bool
}

// UserService manages account lifecycle and profile data.
type UserService struct {
	db  *gorm.DB
	now func() time.Time
}

// UserOption customises UserService behaviour.
type UserOption func(*UserService)

// WithUserClock injects a custom clock primarily for testing.
func WithUserClock(clock func() time.Time) UserOption {
	return func(s *UserService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, opts ...UserOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}

	service := &UserService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create provisions a new account with a hashed password.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Email:       email,
		Password:    hashed,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Avatar:      strings.TrimSpace(input.Avatar),
		IsActive:    true,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	return user, nil
}

// Authenticate verifies credentials and records the login time.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, apperrors.ErrInvalidCredentials
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return nil, apperrors.ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(user).
		Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("user service: record login: %w", err)
	}
	user.LastLoginAt = &now

	return user, nil
}

// GetByID loads a user by its identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// FindByEmail returns the user with the given email, or nil when absent.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("user service: find by email: %w", err)
	}
	return &user, nil
}

// UpdateProfile applies the supplied profile mutations.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*input.DisplayName)
	}
	if input.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*input.Avatar)
	}
	if input.OnboardingComplete != nil {
		updates["onboarding_complete"] = *input.OnboardingComplete
	}

	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update profile: %w", err)
	}

	return s.GetByID(ctx, id)
}

// PartnerOf returns the linked partner's profile, or nil when unpartnered.
func (s *UserService) PartnerOf(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.HasPartner() {
		return nil, nil
	}

	partner, err := s.GetByID(ctx, *user.PartnerID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	return partner, err
}
