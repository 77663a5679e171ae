package ports

import (
	"context"
	"time"

	"mindwell-platform/internal/core/domain"

	"github.com/google/uuid"
)

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// EncryptionService handles AES-256-GCM encryption/decryption, used to keep
// MFA secrets encrypted at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification of
// outbound webhook bodies.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// TokenPurpose scopes a link token to exactly one use case.
type TokenPurpose string

const (
	PurposeEmailVerify   TokenPurpose = "email_verify"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// LinkTokenClaims holds the parsed claims of a link token.
type LinkTokenClaims struct {
	UserID    uuid.UUID
	Email     string
	TokenID   string // jti, consumed once via the used-token store
	ExpiresAt time.Time
}

// LinkTokenService issues and validates the signed single-purpose tokens
// embedded in verification and password-reset links.
type LinkTokenService interface {
	Generate(userID uuid.UUID, email string, purpose TokenPurpose) (string, time.Time, error)
	Validate(token string, purpose TokenPurpose) (*LinkTokenClaims, error)
}

// MFAService provides TOTP and backup-code primitives.
type MFAService interface {
	// GenerateSecret returns a fresh TOTP secret and its otpauth:// URL.
	GenerateSecret(accountName string) (secret string, otpauthURL string, err error)
	ValidateCode(secret string, code string) bool
	// GenerateBackupCodes returns n one-time codes and their hashes; only
	// the hashes are stored.
	GenerateBackupCodes(n int) (codes []string, hashes []string, err error)
	// HashBackupCode hashes a presented code for consumption lookup.
	HashBackupCode(code string) string
}

// RateLimitAction names a rate-limited operation class.
type RateLimitAction string

const (
	ActionLogin         RateLimitAction = "login"
	ActionRegistration  RateLimitAction = "registration"
	ActionPasswordReset RateLimitAction = "password_reset"
)

// RateLimiter tracks failed attempts per (action, identity, ip) key over a
// sliding window. CheckAllowed never throws on limit breach: it returns
// false and the caller rejects with a rate-limit error.
type RateLimiter interface {
	CheckAllowed(ctx context.Context, identity, ip string, action RateLimitAction) (bool, error)
	// RecordAttempt counts a failure, or resets the counter on success.
	RecordAttempt(ctx context.Context, identity, ip string, action RateLimitAction, success bool) error
}

// SuspiciousActivityDetector flags anomalous login context. Fail-open:
// evaluation errors or empty history never block a login.
type SuspiciousActivityDetector interface {
	Evaluate(ctx context.Context, userID uuid.UUID, ip, userAgent string) (bool, error)
}

// MailSender delivers templated account emails. The platform core only
// builds the link; delivery is an external collaborator.
type MailSender interface {
	SendVerificationEmail(ctx context.Context, email, link string) error
	SendPasswordResetEmail(ctx context.Context, email, link string) error
}

// BillingProvider is the abstract payment collaborator: it resolves a
// billing customer for a user and opens a self-service portal session.
// Identifiers are opaque.
type BillingProvider interface {
	EnsureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
}

// SecurityLogger records security events for auditing/alerting.
type SecurityLogger interface {
	Record(ctx context.Context, event *domain.SecurityEvent)
}

// --- Service Ports (Business Logic) ---

// RegisterRequest holds validated input for account registration.
type RegisterRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginRequest holds validated input for a login attempt. MFAToken is empty
// in phase one of the MFA challenge.
type LoginRequest struct {
	Email     string
	Password  string
	MFAToken  string
	IPAddress string
	UserAgent string
}

// LoginResult is the outcome of a successful verification phase.
type LoginResult struct {
	RequiresMFA bool
	Token       string
	ExpiresAt   time.Time
	User        *domain.User
	Suspicious  bool
}

// AuthService defines the authentication business logic, including the
// two-phase MFA state machine and the account lifecycle flows.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, token string) error
	// ForgotPassword returns identical results whether or not the account
	// exists, to prevent enumeration.
	ForgotPassword(ctx context.Context, email, ip string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
	SetupMFA(ctx context.Context, userID uuid.UUID) (secret string, otpauthURL string, err error)
	EnableMFA(ctx context.Context, userID uuid.UUID, code string) (backupCodes []string, err error)
	DisableMFA(ctx context.Context, userID uuid.UUID, password string) error
}

// SessionService issues, validates, and revokes session tokens.
type SessionService interface {
	Create(ctx context.Context, userID uuid.UUID, ip, userAgent string) (*domain.Session, error)
	// Validate fails closed: unknown, idle-expired and absolutely-expired
	// tokens all return (nil, nil), indistinguishably.
	Validate(ctx context.Context, token string) (*domain.Session, error)
	// Revoke is idempotent.
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

// WebhookService defines the webhook event pipeline: ingestion,
// delivery attempts, retry scheduling, and the audit trail.
type WebhookService interface {
	// Ingest persists a new event in PENDING. It succeeds whenever
	// persistence succeeds, independent of any delivery outcome.
	Ingest(ctx context.Context, source string, payload []byte) (*domain.WebhookEvent, error)
	// Deliver performs one delivery attempt against the configured
	// destination.
	Deliver(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	// Retry re-enters the delivery path immediately, regardless of
	// next_retry_at, but still respects the max-retries ceiling.
	Retry(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	// ProcessDue attempts delivery for all due events. Invoked by an
	// external periodic caller, not a scheduler inside the core.
	ProcessDue(ctx context.Context) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	Logs(ctx context.Context, id uuid.UUID) ([]domain.WebhookDeliveryLog, error)
}
