package domain

import (
	"time"

	"github.com/google/uuid"
)

// Failure reasons recorded on login attempts.
const (
	FailureInvalidCredentials = "invalid_credentials"
	FailureInvalidMFACode     = "invalid_mfa_code"
	FailureMFARequired        = "mfa_required"
	FailureRateLimited        = "rate_limited"
	FailureEmailUnverified    = "email_unverified"
	FailureAccountSuspended   = "account_suspended"
)

// LoginAttempt is an append-only record of a single login attempt.
// Rows are never mutated after creation.
type LoginAttempt struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	Success       bool      `json:"success"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
