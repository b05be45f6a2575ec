package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/response"
)

// ConflictHandler serves conflict tracking and AI guidance requests.
type ConflictHandler struct {
	conflicts *services.ConflictService
}

func NewConflictHandler(conflicts *services.ConflictService) *ConflictHandler {
	return &ConflictHandler{conflicts: conflicts}
}

type createConflictRequest struct {
	Topic       string `json:"topic" validate:"required,max=255"`
	Description string `json:"description" validate:"max=5000"`
}

type resolveConflictRequest struct {
	Resolution string `json:"resolution" validate:"max=5000"`
}

// POST /api/conflicts
func (h *ConflictHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req createConflictRequest
	if !bindAndValidate(c, &req) {
		return
	}

	conflict, err := h.conflicts.Create(requestContext(c), userID, services.CreateConflictInput{
		Topic:       req.Topic,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"conflict": conflict})
}

// GET /api/conflicts?status=open
func (h *ConflictHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	conflicts, err := h.conflicts.List(requestContext(c), userID, c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"conflicts": conflicts})
}

// GET /api/conflicts/:id
func (h *ConflictHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	conflict, err := h.conflicts.Get(requestContext(c), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"conflict": conflict})
}

// POST /api/conflicts/:id/guidance
func (h *ConflictHandler) RequestGuidance(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	conflict, err := h.conflicts.RequestGuidance(requestContext(c), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"conflict": conflict})
}

// POST /api/conflicts/:id/resolve
func (h *ConflictHandler) Resolve(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req resolveConflictRequest
	if !bindAndValidate(c, &req) {
		return
	}

	conflict, err := h.conflicts.Resolve(requestContext(c), userID, c.Param("id"), req.Resolution)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"conflict": conflict})
}
