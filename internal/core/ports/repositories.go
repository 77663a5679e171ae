package ports

import (
	"context"
	"time"

	"mindwell-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository defines persistence operations for user accounts.
// Lookups return (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, tx pgx.Tx, id uuid.UUID, passwordHash string) error
	SetEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdateMFA(ctx context.Context, id uuid.UUID, enabled bool, secretEnc *string, backupCodes []string) error
	// ConsumeBackupCode atomically removes the given code hash from the
	// user's backup codes. Returns false when the hash was not present,
	// so a code can never be spent twice.
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.UserStatus) error
}

// SessionRepository defines persistence operations for sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	// Touch refreshes last-active and the rolling idle expiry. The update
	// is conditional on the session still being unexpired.
	Touch(ctx context.Context, token string, lastActive, expiresAt time.Time) error
	// Delete is idempotent: deleting an unknown token is not an error.
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	// RecentByUser returns the most recent sessions for a user, newest
	// first. Used by the suspicious-activity detector.
	RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttemptRepository persists the append-only login attempt log.
type LoginAttemptRepository interface {
	Create(ctx context.Context, attempt *domain.LoginAttempt) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookEventRepository defines persistence for webhook events. Status
// transitions use compare-and-set updates so a slow retry can never clobber
// a concurrently completed delivery.
type WebhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	// ClaimProcessing transitions PENDING or RETRYING to PROCESSING.
	// Returns false when the event was not in a claimable state.
	ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	// FinishProcessing writes the attempt outcome (status, response,
	// retry bookkeeping) only if the event is still PROCESSING.
	FinishProcessing(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	// ListDue returns events ready for a delivery attempt: PENDING, or
	// RETRYING with next_retry_at in the past.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error)
}

// WebhookLogRepository persists the immutable per-attempt audit trail.
type WebhookLogRepository interface {
	Create(ctx context.Context, log *domain.WebhookDeliveryLog) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.WebhookDeliveryLog, error)
}

// SecurityEventRepository persists the security audit trail.
type SecurityEventRepository interface {
	Create(ctx context.Context, event *domain.SecurityEvent) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
