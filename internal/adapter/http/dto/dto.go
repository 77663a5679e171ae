package dto

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// LoginRequest is the request body for login. MFAToken is set only in
// the second phase of the MFA challenge.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	MFAToken string `json:"mfa_token,omitempty" binding:"omitempty,mfa_token"`
}

// LoginResponse is the response body for a completed login.
type LoginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt int64         `json:"expires_at"` // Unix timestamp
	User      *UserResponse `json:"user"`
}

// MFAChallengeResponse tells the client to repeat the login request
// with a second factor.
type MFAChallengeResponse struct {
	RequiresMFA bool `json:"requires_mfa"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	CreatedAt     string `json:"created_at"`
}

// ForgotPasswordRequest is the request body for a password reset link.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordRequest is the request body for redeeming a reset link.
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=128"`
}

// VerifyEmailRequest is the request body for redeeming a verification link.
type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

// MFASetupResponse returns the staged TOTP secret for enrolment.
type MFASetupResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

// MFAEnableRequest is the request body for confirming MFA enrolment.
type MFAEnableRequest struct {
	Code string `json:"code" binding:"required,mfa_token"`
}

// MFAEnableResponse returns the one-time backup codes. Shown exactly once.
type MFAEnableResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// MFADisableRequest is the request body for turning MFA off.
type MFADisableRequest struct {
	Password string `json:"password" binding:"required"`
}

// WebhookEventResponse is the public view of a webhook event.
type WebhookEventResponse struct {
	ID           string  `json:"id"`
	EventType    string  `json:"event_type"`
	Source       string  `json:"source"`
	Status       string  `json:"status"`
	ResponseCode *int    `json:"response_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	RetryCount   int     `json:"retry_count"`
	MaxRetries   int     `json:"max_retries"`
	NextRetryAt  *string `json:"next_retry_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// WebhookLogResponse is one delivery attempt in the audit trail.
type WebhookLogResponse struct {
	ID           string  `json:"id"`
	Attempt      int     `json:"attempt"`
	TargetURL    string  `json:"target_url"`
	ResponseCode *int    `json:"response_code,omitempty"`
	ResponseBody *string `json:"response_body,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// IngestResponse acknowledges a persisted event.
type IngestResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
}

// BillingPortalResponse carries the vendor portal URL.
type BillingPortalResponse struct {
	URL string `json:"url"`
}
