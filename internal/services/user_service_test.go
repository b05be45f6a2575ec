package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetapp/duet/pkg/crypto"
	apperrors "github.com/duetapp/duet/pkg/errors"
)

func TestUserCreateAndAuthenticate(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	service, err := NewUserService(db, WithUserClock(clock.Now))
	require.NoError(t, err)

	user, err := service.Create(context.Background(), CreateUserInput{
		Email:       "  Alice@Example.com ",
		Password:    "s3cret-pass",
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "s3cret-pass", user.Password)
	assert.True(t, crypto.VerifyPassword(user.Password, "s3cret-pass"))

	authed, err := service.Authenticate(context.Background(), "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.NotNil(t, authed.LastLoginAt)
	assert.Equal(t, clock.Now(), authed.LastLoginAt.UTC())

	_, err = service.Authenticate(context.Background(), "alice@example.com", "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = service.Authenticate(context.Background(), "nobody@example.com", "whatever")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestUserCreateRejectsDuplicateEmail(t *testing.T) {
	db := openServiceTestDB(t)
	service, err := NewUserService(db)
	require.NoError(t, err)

	_, err = service.Create(context.Background(), CreateUserInput{Email: "dup@example.com", Password: "x-pass-1"})
	require.NoError(t, err)

	_, err = service.Create(context.Background(), CreateUserInput{Email: "DUP@example.com", Password: "x-pass-2"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestUserUpdateProfile(t *testing.T) {
	db := openServiceTestDB(t)
	service, err := NewUserService(db)
	require.NoError(t, err)

	user := createTestUser(t, db, "profile@example.com")

	name := "New Name"
	done := true
	updated, err := service.UpdateProfile(context.Background(), user.ID, UpdateProfileInput{
		DisplayName:        &name,
		OnboardingComplete: &done,
	})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.DisplayName)
	assert.True(t, updated.OnboardingComplete)

	_, err = service.UpdateProfile(context.Background(), "missing-id", UpdateProfileInput{})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserPartnerOf(t *testing.T) {
	db := openServiceTestDB(t)
	service, err := NewUserService(db)
	require.NoError(t, err)

	a := createTestUser(t, db, "a@example.com")
	b := createTestUser(t, db, "b@example.com")

	partner, err := service.PartnerOf(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, partner)

	require.NoError(t, db.Model(a).Update("partner_id", b.ID).Error)
	require.NoError(t, db.Model(b).Update("partner_id", a.ID).Error)

	partner, err = service.PartnerOf(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, partner)
	assert.Equal(t, b.ID, partner.ID)
}
