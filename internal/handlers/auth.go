package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/duetapp/duet/internal/auth"
	"github.com/duetapp/duet/internal/models"
	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/metrics"
	"github.com/duetapp/duet/pkg/response"
)

// AuthHandler manages registration, login and the current-user endpoint.
type AuthHandler struct {
	users *services.UserService
	jwt   *iauth.JWTService
}

func NewAuthHandler(users *services.UserService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwt}
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"display_name" validate:"max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Email: user.Email})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusCreated, gin.H{
		"tokens": tokenResponse{AccessToken: token},
		"user":   userPayload(user),
	})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Authenticate(requestContext(c), req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Email: user.Email})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: token},
		"user":   userPayload(user),
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": userPayload(user)})
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":                  user.ID,
		"email":               user.Email,
		"display_name":        user.DisplayName,
		"avatar":              user.Avatar,
		"partner_id":          user.PartnerID,
		"onboarding_complete": user.OnboardingComplete,
		"is_active":           user.IsActive,
	}
}
