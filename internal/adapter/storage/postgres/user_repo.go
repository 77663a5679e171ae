package postgres

import (
	"context"
	"errors"
	"fmt"

	"mindwell-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, email, password_hash, role, status, email_verified, mfa_enabled, mfa_secret_enc, backup_codes, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	var role, status string
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &role, &status,
		&u.EmailVerified, &u.MFAEnabled, &u.MFASecretEnc, &u.BackupCodes,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	return u, nil
}

// Create inserts a new user.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (id, email, password_hash, role, status, email_verified, mfa_enabled, mfa_secret_enc, backup_codes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.Role, u.Status,
		u.EmailVerified, u.MFAEnabled, u.MFASecretEnc, u.BackupCodes,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID fetches a user by its UUID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetByEmail fetches a user by email, case-insensitively.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	u, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpdatePassword replaces the credential hash. When tx is non-nil the
// update joins the caller's transaction (password reset revokes sessions
// in the same transaction).
func (r *UserRepo) UpdatePassword(ctx context.Context, tx pgx.Tx, id uuid.UUID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`

	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, query, id, passwordHash)
	} else {
		_, err = r.pool.Exec(ctx, query, id, passwordHash)
	}
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetEmailVerified marks the user's email address as verified.
func (r *UserRepo) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}
	return nil
}

// UpdateMFA stores the MFA state: enabled flag, encrypted secret, and the
// full set of backup code hashes.
func (r *UserRepo) UpdateMFA(ctx context.Context, id uuid.UUID, enabled bool, secretEnc *string, backupCodes []string) error {
	query := `UPDATE users SET mfa_enabled = $2, mfa_secret_enc = $3, backup_codes = $4, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, enabled, secretEnc, backupCodes); err != nil {
		return fmt.Errorf("update mfa: %w", err)
	}
	return nil
}

// ConsumeBackupCode removes one code hash atomically. The WHERE clause is
// the compare-and-set: a hash not present (already spent) affects no rows.
func (r *UserRepo) ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error) {
	query := `UPDATE users SET backup_codes = array_remove(backup_codes, $2), updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(backup_codes)`

	tag, err := r.pool.Exec(ctx, query, id, codeHash)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStatus moves the account between soft lifecycle states.
func (r *UserRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.UserStatus) error {
	query := `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}
