package postgres

import (
	"context"
	"fmt"

	"mindwell-platform/internal/core/domain"

	"github.com/google/uuid"
)

// WebhookLogRepo implements ports.WebhookLogRepository. One row per
// delivery attempt, never updated.
type WebhookLogRepo struct {
	pool Pool
}

// NewWebhookLogRepo creates a new WebhookLogRepo.
func NewWebhookLogRepo(pool Pool) *WebhookLogRepo {
	return &WebhookLogRepo{pool: pool}
}

// Create appends one delivery attempt record.
func (r *WebhookLogRepo) Create(ctx context.Context, l *domain.WebhookDeliveryLog) error {
	query := `INSERT INTO webhook_delivery_logs (id, event_id, attempt, target_url, request_body, response_code, response_body, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		l.ID, l.EventID, l.Attempt, l.TargetURL, l.RequestBody,
		l.ResponseCode, l.ResponseBody, l.ErrorMessage, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

// ListByEvent returns the full attempt trail for an event, newest first.
func (r *WebhookLogRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.WebhookDeliveryLog, error) {
	query := `SELECT id, event_id, attempt, target_url, request_body, response_code, response_body, error_message, created_at
		FROM webhook_delivery_logs WHERE event_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.WebhookDeliveryLog
	for rows.Next() {
		var l domain.WebhookDeliveryLog
		if err := rows.Scan(
			&l.ID, &l.EventID, &l.Attempt, &l.TargetURL, &l.RequestBody,
			&l.ResponseCode, &l.ResponseBody, &l.ErrorMessage, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
