package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/duetapp/duet/internal/auth"
	"github.com/duetapp/duet/internal/services"
)

func newAuthTestHandler(t *testing.T) (*AuthHandler, *services.UserService) {
	t.Helper()

	db := openHandlerTestDB(t)
	users, err := services.NewUserService(db)
	require.NoError(t, err)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "test-secret-test-secret-test-secret",
		Issuer:         "duet-test",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	return NewAuthHandler(users, jwt), users
}

func TestAuthHandlerRegisterAndLogin(t *testing.T) {
	handler, _ := newAuthTestHandler(t)

	c, recorder := testRequest(t, "", gin.H{
		"email":        "alice@example.com",
		"password":     "super-secret-1",
		"display_name": "Alice",
	})
	handler.Register(c)
	require.Equal(t, http.StatusCreated, recorder.Code)

	payload := decodeResponse(t, recorder)
	require.True(t, payload.Success)

	var tokens tokenResponse
	require.NoError(t, json.Unmarshal(dataField(t, payload, "tokens"), &tokens))
	require.NotEmpty(t, tokens.AccessToken)

	c2, recorder2 := testRequest(t, "", gin.H{
		"email":    "alice@example.com",
		"password": "super-secret-1",
	})
	handler.Login(c2)
	require.Equal(t, http.StatusOK, recorder2.Code)

	c3, recorder3 := testRequest(t, "", gin.H{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	handler.Login(c3)
	require.Equal(t, http.StatusUnauthorized, recorder3.Code)
}

func TestAuthHandlerRegisterValidation(t *testing.T) {
	handler, _ := newAuthTestHandler(t)

	// Missing password and malformed email both fail validation.
	c, recorder := testRequest(t, "", gin.H{"email": "not-an-email"})
	handler.Register(c)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	c2, recorder2 := testRequest(t, "", gin.H{
		"email":    "short@example.com",
		"password": "tiny",
	})
	handler.Register(c2)
	require.Equal(t, http.StatusBadRequest, recorder2.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	handler, users := newAuthTestHandler(t)

	user, err := users.Create(testRequestContext(), services.CreateUserInput{
		Email:    "me@example.com",
		Password: "super-secret-1",
	})
	require.NoError(t, err)

	c, recorder := testRequest(t, user.ID, nil)
	handler.Me(c)
	require.Equal(t, http.StatusOK, recorder.Code)

	c2, recorder2 := testRequest(t, "", nil)
	handler.Me(c2)
	require.Equal(t, http.StatusUnauthorized, recorder2.Code)
}
