package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/response"
)

// ProfileHandler serves profile reads and updates, including the partner view.
type ProfileHandler struct {
	users *services.UserService
}

func NewProfileHandler(users *services.UserService) *ProfileHandler {
	return &ProfileHandler{users: users}
}

type updateProfileRequest struct {
	DisplayName        *string `json:"display_name" validate:"omitempty,max=100"`
	Avatar             *string `json:"avatar" validate:"omitempty,max=500"`
	OnboardingComplete *bool   `json:"onboarding_complete"`
}

// GET /api/profile
func (h *ProfileHandler) Get(c *gin.Context) {
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

// PATCH /api/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.UpdateProfile(requestContext(c), userID, services.UpdateProfileInput{
		DisplayName:        req.DisplayName,
		Avatar:             req.Avatar,
		OnboardingComplete: req.OnboardingComplete,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": userPayload(user)})
}

// GET /api/profile/partner
func (h *ProfileHandler) Partner(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	partner, err := h.users.PartnerOf(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if partner == nil {
		response.Success(c, http.StatusOK, gin.H{"partner": nil})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"partner": userPayload(partner)})
}
