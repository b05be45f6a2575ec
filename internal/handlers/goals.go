package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/response"
)

// GoalHandler serves the couple's shared goals.
type GoalHandler struct {
	goals *services.GoalService
}

func NewGoalHandler(goals *services.GoalService) *GoalHandler {
	return &GoalHandler{goals: goals}
}

type createGoalRequest struct {
	Title       string     `json:"title" validate:"required,max=255"`
	Description string     `json:"description" validate:"max=5000"`
	Category    string     `json:"category" validate:"max=64"`
	TargetDate  *time.Time `json:"target_date"`
}

type updateGoalRequest struct {
	Title       *string    `json:"title" validate:"omitempty,max=255"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	Category    *string    `json:"category" validate:"omitempty,max=64"`
	TargetDate  *time.Time `json:"target_date"`
}

type progressRequest struct {
	Progress int `json:"progress" validate:"min=0,max=100"`
}

// POST /api/goals
func (h *GoalHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req createGoalRequest
	if !bindAndValidate(c, &req) {
		return
	}

	goal, err := h.goals.Create(requestContext(c), userID, services.CreateGoalInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		TargetDate:  req.TargetDate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"goal": goal})
}

// GET /api/goals
func (h *GoalHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	goals, err := h.goals.List(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"goals": goals})
}

// GET /api/goals/:id
func (h *GoalHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	goal, err := h.goals.Get(requestContext(c), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"goal": goal})
}

// PATCH /api/goals/:id
func (h *GoalHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req updateGoalRequest
	if !bindAndValidate(c, &req) {
		return
	}

	goal, err := h.goals.Update(requestContext(c), userID, c.Param("id"), services.UpdateGoalInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		TargetDate:  req.TargetDate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"goal": goal})
}

// PUT /api/goals/:id/progress
func (h *GoalHandler) UpdateProgress(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req progressRequest
	if !bindAndValidate(c, &req) {
		return
	}

	goal, err := h.goals.UpdateProgress(requestContext(c), userID, c.Param("id"), req.Progress)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"goal": goal})
}

// POST /api/goals/:id/complete
func (h *GoalHandler) Complete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	goal, err := h.goals.Complete(requestContext(c), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"goal": goal})
}

// DELETE /api/goals/:id
func (h *GoalHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.goals.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
