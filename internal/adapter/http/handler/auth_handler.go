package handler

import (
	"time"

	"mindwell-platform/internal/adapter/http/dto"
	"mindwell-platform/internal/adapter/http/middleware"
	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"
	"mindwell-platform/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authSvc ports.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc ports.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

func toUserResponse(u *domain.User) *dto.UserResponse {
	return &dto.UserResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Role:          string(u.Role),
		Status:        string(u.Status),
		EmailVerified: u.EmailVerified,
		MFAEnabled:    u.MFAEnabled,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
	}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	user, err := h.authSvc.Register(c.Request.Context(), ports.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RegisterResponse{
		UserID: user.ID.String(),
		Email:  user.Email,
	})
}

// Login handles POST /api/v1/auth/login. When the account has MFA
// enabled and no mfa_token was sent, the response is the MFA challenge.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.authSvc.Login(c.Request.Context(), ports.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		MFAToken:  req.MFAToken,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.RequiresMFA {
		response.OK(c, dto.MFAChallengeResponse{RequiresMFA: true})
		return
	}

	response.OK(c, dto.LoginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.Unix(),
		User:      toUserResponse(result.User),
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString(middleware.CtxSessionToken)
	if err := h.authSvc.Logout(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"logged_out": true})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	v, ok := c.Get(middleware.CtxUser)
	if !ok {
		response.Error(c, apperror.ErrInvalidSession())
		return
	}
	response.OK(c, toUserResponse(v.(*domain.User)))
}

// ForgotPassword handles POST /api/v1/auth/forgot-password. The response
// is identical whether or not the account exists.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	if err := h.authSvc.ForgotPassword(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "If the account exists, a reset link has been sent"})
}

// ResetPassword handles POST /api/v1/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.authSvc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Password updated"})
}

// VerifyEmail handles POST /api/v1/auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req dto.VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.authSvc.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Email verified"})
}
