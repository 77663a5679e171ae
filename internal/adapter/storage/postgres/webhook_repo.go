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

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

const webhookEventColumns = `id, event_type, source, status, payload, response_code, response_body, error_message, retry_count, max_retries, next_retry_at, created_at, updated_at`

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	e := &domain.WebhookEvent{}
	var status string
	err := row.Scan(
		&e.ID, &e.EventType, &e.Source, &status, &e.Payload,
		&e.ResponseCode, &e.ResponseBody, &e.ErrorMessage,
		&e.RetryCount, &e.MaxRetries, &e.NextRetryAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = domain.WebhookStatus(status)
	return e, nil
}

// Create inserts a new event, normally in PENDING.
func (r *WebhookEventRepo) Create(ctx context.Context, e *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (id, event_type, source, status, payload, response_code, response_body, error_message, retry_count, max_retries, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.EventType, e.Source, string(e.Status), e.Payload,
		e.ResponseCode, e.ResponseBody, e.ErrorMessage,
		e.RetryCount, e.MaxRetries, e.NextRetryAt,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetByID fetches an event by id.
func (r *WebhookEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1`

	e, err := scanWebhookEvent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return e, nil
}

// ClaimProcessing is the compare-and-set entry into a delivery attempt:
// only PENDING or RETRYING events can move to PROCESSING, so two workers
// can never both claim the same attempt.
func (r *WebhookEventRepo) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE webhook_events SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`

	tag, err := r.pool.Exec(ctx, query, id,
		string(domain.WebhookStatusProcessing),
		string(domain.WebhookStatusPending),
		string(domain.WebhookStatusRetrying),
	)
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FinishProcessing writes the attempt outcome. The status guard prevents a
// slow attempt from clobbering a delivery that already completed elsewhere.
func (r *WebhookEventRepo) FinishProcessing(ctx context.Context, e *domain.WebhookEvent) (bool, error) {
	query := `UPDATE webhook_events
		SET status = $2, response_code = $3, response_body = $4, error_message = $5,
			retry_count = $6, next_retry_at = $7, updated_at = NOW()
		WHERE id = $1 AND status = $8`

	tag, err := r.pool.Exec(ctx, query,
		e.ID, string(e.Status), e.ResponseCode, e.ResponseBody, e.ErrorMessage,
		e.RetryCount, e.NextRetryAt,
		string(domain.WebhookStatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("finish webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListDue returns events ready for delivery: PENDING, or RETRYING whose
// next_retry_at has passed. Oldest first.
func (r *WebhookEventRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE status = $1 OR (status = $2 AND next_retry_at <= $3)
		ORDER BY created_at ASC LIMIT $4`

	rows, err := r.pool.Query(ctx, query,
		string(domain.WebhookStatusPending),
		string(domain.WebhookStatusRetrying),
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var e domain.WebhookEvent
		var status string
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.Source, &status, &e.Payload,
			&e.ResponseCode, &e.ResponseBody, &e.ErrorMessage,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		e.Status = domain.WebhookStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}
