package handler

import (
	"mindwell-platform/internal/adapter/http/dto"
	"mindwell-platform/internal/adapter/http/middleware"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"
	"mindwell-platform/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MFAHandler handles multi-factor authentication management.
type MFAHandler struct {
	authSvc ports.AuthService
}

// NewMFAHandler creates a new MFAHandler.
func NewMFAHandler(authSvc ports.AuthService) *MFAHandler {
	return &MFAHandler{authSvc: authSvc}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.CtxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// Setup handles POST /api/v1/auth/mfa/setup. It stages a TOTP secret;
// MFA stays off until Enable confirms the user can produce a code.
func (h *MFAHandler) Setup(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSession())
		return
	}

	secret, otpauthURL, err := h.authSvc.SetupMFA(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.MFASetupResponse{
		Secret:     secret,
		OtpauthURL: otpauthURL,
	})
}

// Enable handles POST /api/v1/auth/mfa/enable. The backup codes in the
// response are shown exactly once.
func (h *MFAHandler) Enable(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSession())
		return
	}

	var req dto.MFAEnableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	codes, err := h.authSvc.EnableMFA(c.Request.Context(), userID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.MFAEnableResponse{BackupCodes: codes})
}

// Disable handles POST /api/v1/auth/mfa/disable. Requires the current
// password, not a TOTP code: a stolen session alone must not be enough
// to strip the second factor.
func (h *MFAHandler) Disable(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSession())
		return
	}

	var req dto.MFADisableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.authSvc.DisableMFA(c.Request.Context(), userID, req.Password); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"mfa_enabled": false})
}
