package domain

import (
	"time"

	"github.com/google/uuid"
)

// SecurityAction identifies the kind of audited security event.
type SecurityAction string

const (
	SecurityLoginSuccess      SecurityAction = "LOGIN_SUCCESS"
	SecurityLoginFailed       SecurityAction = "LOGIN_FAILED"
	SecurityLoginRateLimited  SecurityAction = "LOGIN_RATE_LIMITED"
	SecuritySuspiciousLogin   SecurityAction = "SUSPICIOUS_LOGIN"
	SecurityPasswordResetSent SecurityAction = "PASSWORD_RESET_REQUESTED"
	SecurityPasswordReset     SecurityAction = "PASSWORD_RESET"
	SecurityEmailVerified     SecurityAction = "EMAIL_VERIFIED"
	SecurityMFAEnabled        SecurityAction = "MFA_ENABLED"
	SecurityMFADisabled       SecurityAction = "MFA_DISABLED"
	SecuritySessionRevoked    SecurityAction = "SESSION_REVOKED"
	SecurityWebhookExhausted  SecurityAction = "WEBHOOK_RETRIES_EXHAUSTED"
)

// SecurityEvent records a single security-relevant action for auditing.
type SecurityEvent struct {
	ID        uuid.UUID      `json:"id"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	Action    SecurityAction `json:"action"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   string         `json:"details,omitempty"` // JSON string
	CreatedAt time.Time      `json:"created_at"`
}
