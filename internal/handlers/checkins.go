package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/response"
)

// CheckInHandler serves daily mood check-ins.
type CheckInHandler struct {
	checkins *services.CheckInService
}

func NewCheckInHandler(checkins *services.CheckInService) *CheckInHandler {
	return &CheckInHandler{checkins: checkins}
}

type checkInRequest struct {
	Mood   int    `json:"mood" validate:"required,min=1,max=5"`
	Energy int    `json:"energy" validate:"min=0,max=10"`
	Note   string `json:"note" validate:"max=2000"`
}

// PUT /api/checkins/today
func (h *CheckInHandler) UpsertToday(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req checkInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	entry, err := h.checkins.Upsert(requestContext(c), userID, services.CheckInInput{
		Mood:   req.Mood,
		Energy: req.Energy,
		Note:   req.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"checkin": entry})
}

// GET /api/checkins/today
func (h *CheckInHandler) Today(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	entry, err := h.checkins.Today(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"checkin": entry})
}

// GET /api/checkins?days=7&scope=couple
func (h *CheckInHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	days := parseIntQuery(c, "days", 7)
	ctx := requestContext(c)

	var (
		entries interface{}
		err     error
	)
	if c.Query("scope") == "couple" {
		entries, err = h.checkins.ListCoupleRecent(ctx, userID, days)
	} else {
		entries, err = h.checkins.ListRecent(ctx, userID, days)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"checkins": entries})
}

// GET /api/checkins/streak
func (h *CheckInHandler) Streak(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	streak, err := h.checkins.Streak(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"streak": streak})
}
