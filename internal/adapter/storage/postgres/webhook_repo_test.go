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

func newTestEvent() *domain.WebhookEvent {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.WebhookEvent{
		ID:         uuid.New(),
		EventType:  "users.created",
		Source:     "crm",
		Status:     domain.WebhookStatusPending,
		Payload:    `{"type":"INSERT","table":"users","schema":"public"}`,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func webhookColumnList() []string {
	return []string{"id", "event_type", "source", "status", "payload", "response_code", "response_body", "error_message", "retry_count", "max_retries", "next_retry_at", "created_at", "updated_at"}
}

func webhookRow(e *domain.WebhookEvent) *pgxmock.Rows {
	return pgxmock.NewRows(webhookColumnList()).AddRow(
		e.ID, e.EventType, e.Source, string(e.Status), e.Payload,
		e.ResponseCode, e.ResponseBody, e.ErrorMessage,
		e.RetryCount, e.MaxRetries, e.NextRetryAt,
		e.CreatedAt, e.UpdatedAt,
	)
}

func TestWebhookEventRepo_CreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookEventRepo(mock)
	e := newTestEvent()

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs(e.ID, e.EventType, e.Source, string(e.Status), e.Payload,
			e.ResponseCode, e.ResponseBody, e.ErrorMessage,
			e.RetryCount, e.MaxRetries, e.NextRetryAt,
			e.CreatedAt, e.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), e))

	mock.ExpectQuery(`SELECT .+ FROM webhook_events WHERE id = \$1`).
		WithArgs(e.ID).
		WillReturnRows(webhookRow(e))

	got, err := repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.WebhookStatusPending, got.Status)
	assert.Equal(t, "users.created", got.EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookEventRepo_ClaimProcessing_Wins(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookEventRepo(mock)
	id := uuid.New()

	mock.ExpectExec(`UPDATE webhook_events SET status = \$2.+WHERE id = \$1 AND status IN \(\$3, \$4\)`).
		WithArgs(id, "PROCESSING", "PENDING", "RETRYING").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	claimed, err := repo.ClaimProcessing(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookEventRepo_ClaimProcessing_LosesRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookEventRepo(mock)
	id := uuid.New()

	// Event already PROCESSING (or terminal): no row matches.
	mock.ExpectExec(`UPDATE webhook_events SET status = \$2.+WHERE id = \$1 AND status IN \(\$3, \$4\)`).
		WithArgs(id, "PROCESSING", "PENDING", "RETRYING").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	claimed, err := repo.ClaimProcessing(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookEventRepo_FinishProcessing_GuardedByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookEventRepo(mock)
	e := newTestEvent()
	e.Status = domain.WebhookStatusRetrying
	e.RetryCount = 1
	code := 500
	e.ResponseCode = &code
	next := time.Now().UTC().Add(time.Minute)
	e.NextRetryAt = &next

	mock.ExpectExec(`UPDATE webhook_events\s+SET status = \$2.+WHERE id = \$1 AND status = \$8`).
		WithArgs(e.ID, "RETRYING", e.ResponseCode, e.ResponseBody, e.ErrorMessage,
			e.RetryCount, e.NextRetryAt, "PROCESSING").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	updated, err := repo.FinishProcessing(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookEventRepo_ListDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookEventRepo(mock)
	e := newTestEvent()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM webhook_events\s+WHERE status = \$1 OR \(status = \$2 AND next_retry_at <= \$3\)`).
		WithArgs("PENDING", "RETRYING", now, 50).
		WillReturnRows(webhookRow(e))

	due, err := repo.ListDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, e.ID, due[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
