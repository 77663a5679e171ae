package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindwell-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRepo implements ports.SessionRepository.
type SessionRepo struct {
	pool Pool
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(pool Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `token, user_id, created_at, expires_at, absolute_expiry, last_active_at, ip_address, user_agent`

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	query := `INSERT INTO sessions (token, user_id, created_at, expires_at, absolute_expiry, last_active_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		s.Token, s.UserID, s.CreatedAt, s.ExpiresAt, s.AbsoluteExpiry,
		s.LastActiveAt, s.IPAddress, s.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByToken fetches a session by its token.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1`

	s := &domain.Session{}
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.AbsoluteExpiry,
		&s.LastActiveAt, &s.IPAddress, &s.UserAgent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return s, nil
}

// Touch refreshes the rolling idle expiry and last-active timestamp. The
// condition keeps the update from resurrecting a session that expired
// between read and write.
func (r *SessionRepo) Touch(ctx context.Context, token string, lastActive, expiresAt time.Time) error {
	query := `UPDATE sessions SET last_active_at = $2, expires_at = $3
		WHERE token = $1 AND expires_at > NOW() AND absolute_expiry > NOW()`

	if _, err := r.pool.Exec(ctx, query, token, lastActive, expiresAt); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown token affects no rows and
// is not an error.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes all sessions of a user. When tx is non-nil the
// delete joins the caller's transaction.
func (r *SessionRepo) DeleteByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	query := `DELETE FROM sessions WHERE user_id = $1`

	if tx != nil {
		tag, err := tx.Exec(ctx, query, userID)
		if err != nil {
			return 0, fmt.Errorf("delete sessions by user: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions by user: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecentByUser returns the user's most recent sessions, newest first.
func (r *SessionRepo) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.AbsoluteExpiry,
			&s.LastActiveAt, &s.IPAddress, &s.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteExpired purges sessions past either expiry horizon.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at <= $1 OR absolute_expiry <= $1`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
