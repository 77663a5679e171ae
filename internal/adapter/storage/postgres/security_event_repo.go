package postgres

import (
	"context"
	"fmt"

	"mindwell-platform/internal/core/domain"
)

// SecurityEventRepo implements ports.SecurityEventRepository.
type SecurityEventRepo struct {
	pool Pool
}

// NewSecurityEventRepo creates a new SecurityEventRepo.
func NewSecurityEventRepo(pool Pool) *SecurityEventRepo {
	return &SecurityEventRepo{pool: pool}
}

// Create appends one security event.
func (r *SecurityEventRepo) Create(ctx context.Context, e *domain.SecurityEvent) error {
	query := `INSERT INTO security_events (id, user_id, action, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.UserID, string(e.Action), e.IPAddress, e.UserAgent, e.Details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}
