package service

import (
	"context"
	"time"

	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type securityService struct {
	repo ports.SecurityEventRepository
	log  zerolog.Logger
}

// NewSecurityService creates the security audit trail writer. A nil
// repository degrades to structured-log-only recording.
func NewSecurityService(repo ports.SecurityEventRepository, log zerolog.Logger) ports.SecurityLogger {
	return &securityService{repo: repo, log: log}
}

// Record persists the event asynchronously. Audit writes must never
// slow down or fail the request that produced them.
func (s *securityService) Record(ctx context.Context, event *domain.SecurityEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	go func() {
		ev := s.log.Info().Str("action", string(event.Action))
		if event.UserID != nil {
			ev = ev.Str("user_id", event.UserID.String())
		}
		if event.IPAddress != "" {
			ev = ev.Str("ip_address", event.IPAddress)
		}
		if event.Details != "" {
			ev = ev.Str("details", event.Details)
		}
		ev.Msg("security event")

		if s.repo == nil {
			return
		}
		if err := s.repo.Create(context.Background(), event); err != nil {
			s.log.Error().Err(err).Str("action", string(event.Action)).Msg("failed to persist security event")
		}
	}()
}
