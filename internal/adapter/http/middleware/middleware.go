package middleware

import (
	"net/http"
	"strings"
	"time"

	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"
	"mindwell-platform/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Context keys
	CtxUserID       = "user_id"
	CtxUser         = "user"
	CtxSessionToken = "session_token"
)

// RequestID assigns each request a unique id, echoed in the response
// header and in every response envelope.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(response.CtxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// SessionAuth validates the opaque bearer token and loads the account
// behind it. Unknown, expired and revoked tokens are rejected
// identically.
func SessionAuth(sessionSvc ports.SessionService, users ports.UserRepository, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Error(c, apperror.ErrInvalidSession())
			c.Abort()
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		session, err := sessionSvc.Validate(c.Request.Context(), token)
		if err != nil {
			log.Error().Err(err).Msg("session validation failed")
			response.Error(c, err)
			c.Abort()
			return
		}
		if session == nil {
			response.Error(c, apperror.ErrInvalidSession())
			c.Abort()
			return
		}

		user, err := users.GetByID(c.Request.Context(), session.UserID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load session user")
			response.Error(c, apperror.ErrDatabaseError(err))
			c.Abort()
			return
		}
		if user == nil || !user.IsActive() {
			response.Error(c, apperror.ErrInvalidSession())
			c.Abort()
			return
		}

		c.Set(CtxUserID, user.ID)
		c.Set(CtxUser, user)
		c.Set(CtxSessionToken, token)
		c.Next()
	}
}

// RequireAdmin gates a route group on the ADMIN role. Must run after
// SessionAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(CtxUser)
		if !ok {
			response.Error(c, apperror.ErrInvalidSession())
			c.Abort()
			return
		}
		user, ok := v.(*domain.User)
		if !ok || user.Role != domain.RoleAdmin {
			response.Error(c, apperror.ErrForbidden())
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(response.CtxRequestID)).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
