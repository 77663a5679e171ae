package postgres

import (
	"context"
	"testing"
	"time"

	"mindwell-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *domain.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Session{
		Token:          "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		UserID:         uuid.New(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(30 * time.Minute),
		AbsoluteExpiry: now.Add(720 * time.Hour),
		LastActiveAt:   now,
		IPAddress:      "203.0.113.7",
		UserAgent:      "test-agent/1.0",
	}
}

func sessionColumnList() []string {
	return []string{"token", "user_id", "created_at", "expires_at", "absolute_expiry", "last_active_at", "ip_address", "user_agent"}
}

func sessionRow(s *domain.Session) *pgxmock.Rows {
	return pgxmock.NewRows(sessionColumnList()).AddRow(
		s.Token, s.UserID, s.CreatedAt, s.ExpiresAt, s.AbsoluteExpiry,
		s.LastActiveAt, s.IPAddress, s.UserAgent,
	)
}

func TestSessionRepo_CreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSessionRepo(mock)
	s := newTestSession()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(s.Token, s.UserID, s.CreatedAt, s.ExpiresAt, s.AbsoluteExpiry,
			s.LastActiveAt, s.IPAddress, s.UserAgent).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), s))

	mock.ExpectQuery(`SELECT .+ FROM sessions WHERE token = \$1`).
		WithArgs(s.Token).
		WillReturnRows(sessionRow(s))

	got, err := repo.GetByToken(context.Background(), s.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, s.AbsoluteExpiry, got.AbsoluteExpiry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_GetByToken_Unknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSessionRepo(mock)

	mock.ExpectQuery(`SELECT .+ FROM sessions WHERE token = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(sessionColumnList()))

	got, err := repo.GetByToken(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_Touch_GuardsExpiry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSessionRepo(mock)
	now := time.Now().UTC()

	// An expired session matches no row; Touch still succeeds.
	mock.ExpectExec(`UPDATE sessions SET last_active_at .+ expires_at > NOW\(\) AND absolute_expiry > NOW\(\)`).
		WithArgs("token", now, now.Add(30*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Touch(context.Background(), "token", now, now.Add(30*time.Minute))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_Delete_Idempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSessionRepo(mock)

	mock.ExpectExec(`DELETE FROM sessions WHERE token = \$1`).
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, repo.Delete(context.Background(), "gone"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_DeleteByUser_InTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSessionRepo(mock)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM sessions WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	count, err := repo.DeleteByUser(context.Background(), tx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_DeleteExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSessionRepo(mock)
	now := time.Now().UTC()

	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at <= \$1 OR absolute_expiry <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	count, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
