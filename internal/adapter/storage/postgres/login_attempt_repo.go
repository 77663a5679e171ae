package postgres

import (
	"context"
	"fmt"
	"time"

	"mindwell-platform/internal/core/domain"
)

// LoginAttemptRepo implements ports.LoginAttemptRepository. Attempts are
// append-only; the only mutation is the retention purge.
type LoginAttemptRepo struct {
	pool Pool
}

// NewLoginAttemptRepo creates a new LoginAttemptRepo.
func NewLoginAttemptRepo(pool Pool) *LoginAttemptRepo {
	return &LoginAttemptRepo{pool: pool}
}

// Create appends one attempt record.
func (r *LoginAttemptRepo) Create(ctx context.Context, a *domain.LoginAttempt) error {
	query := `INSERT INTO login_attempts (id, email, ip_address, user_agent, success, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Email, a.IPAddress, a.UserAgent, a.Success, a.FailureReason, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// DeleteOlderThan purges attempts past the retention cutoff.
func (r *LoginAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old login attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
