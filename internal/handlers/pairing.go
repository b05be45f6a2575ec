package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duetapp/duet/internal/models"
	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/response"
)

// PairingHandler exposes the partner pairing protocol: invitation links,
// short codes, email invitations, validation, redemption and unlinking.
type PairingHandler struct {
	pairing *services.PairingService
}

func NewPairingHandler(pairing *services.PairingService) *PairingHandler {
	return &PairingHandler{pairing: pairing}
}

type emailInviteRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type redeemRequest struct {
	Secret string `json:"secret" validate:"required,min=1,max=128"`
}

// POST /api/pairing/invitations/link
func (h *PairingHandler) CreateLinkInvitation(c *gin.Context) {
	h.issue(c, models.CredentialKindToken)
}

// POST /api/pairing/invitations/code
func (h *PairingHandler) CreateCodeInvitation(c *gin.Context) {
	h.issue(c, models.CredentialKindCode)
}

func (h *PairingHandler) issue(c *gin.Context, kind models.CredentialKind) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	issued, err := h.pairing.Issue(requestContext(c), userID, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, issuedPayload(issued))
}

// POST /api/pairing/invitations/email
func (h *PairingHandler) CreateEmailInvitation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req emailInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	issued, err := h.pairing.IssueEmail(requestContext(c), userID, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, issuedPayload(issued))
}

// POST /api/pairing/invitations/link/regenerate
func (h *PairingHandler) RegenerateLink(c *gin.Context) {
	h.regenerate(c, models.CredentialKindToken)
}

// POST /api/pairing/invitations/code/regenerate
func (h *PairingHandler) RegenerateCode(c *gin.Context) {
	h.regenerate(c, models.CredentialKindCode)
}

func (h *PairingHandler) regenerate(c *gin.Context, kind models.CredentialKind) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	issued, err := h.pairing.Regenerate(requestContext(c), userID, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, issuedPayload(issued))
}

// GET /api/pairing/invitations/:secret
//
// Validation is a pure read so an invitee can preview who invited them
// before deciding; nothing is consumed here.
func (h *PairingHandler) ValidateInvitation(c *gin.Context) {
	credential, err := h.pairing.Validate(requestContext(c), c.Param("secret"))
	if err != nil {
		response.Error(c, err)
		return
	}

	// The preview is public, so show a placeholder rather than the
	// inviter's email when no display name is set.
	inviterName := "your partner"
	if credential.Inviter != nil && strings.TrimSpace(credential.Inviter.DisplayName) != "" {
		inviterName = strings.TrimSpace(credential.Inviter.DisplayName)
	}

	response.Success(c, http.StatusOK, gin.H{
		"kind":         credential.Kind,
		"inviter_name": inviterName,
		"expires_at":   credential.ExpiresAt,
	})
}

// POST /api/pairing/redeem
func (h *PairingHandler) Redeem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req redeemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.pairing.Redeem(requestContext(c), req.Secret, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"partner": userPayload(result.Inviter),
		"user":    userPayload(result.Accepter),
	})
}

// POST /api/pairing/decline
func (h *PairingHandler) Decline(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req redeemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.pairing.Decline(requestContext(c), req.Secret, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"declined": true})
}

// DELETE /api/pairing/partner
func (h *PairingHandler) Unlink(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.pairing.Unlink(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unlinked": true})
}

func issuedPayload(issued *services.IssuedCredential) gin.H {
	payload := gin.H{
		"kind":       issued.Credential.Kind,
		"secret":     issued.Credential.Secret,
		"expires_at": issued.Credential.ExpiresAt,
	}
	if issued.Link != "" {
		payload["link"] = issued.Link
	}
	if issued.Credential.RecipientEmail != "" {
		payload["recipient_email"] = issued.Credential.RecipientEmail
	}
	return payload
}
