package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const sessionTokenBytes = 32 // 256 bits of entropy, hex encoded

type sessionService struct {
	repo        ports.SessionRepository
	idleTTL     time.Duration
	absoluteTTL time.Duration
	log         zerolog.Logger
}

// NewSessionService creates the opaque-token session manager. Sessions
// expire after idleTTL of inactivity or absoluteTTL after creation,
// whichever comes first.
func NewSessionService(repo ports.SessionRepository, idleTTL, absoluteTTL time.Duration, log zerolog.Logger) ports.SessionService {
	return &sessionService{
		repo:        repo,
		idleTTL:     idleTTL,
		absoluteTTL: absoluteTTL,
		log:         log,
	}
}

func generateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *sessionService) Create(ctx context.Context, userID uuid.UUID, ipAddress, userAgent string) (*domain.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	now := time.Now().UTC()
	session := &domain.Session{
		Token:          token,
		UserID:         userID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.idleTTL),
		AbsoluteExpiry: now.Add(s.absoluteTTL),
		LastActiveAt:   now,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return session, nil
}

// Validate resolves a token to its live session, sliding the idle
// expiry forward. An unknown or expired token yields (nil, nil);
// only storage failures produce an error.
func (s *sessionService) Validate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if session == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	if !session.ValidAt(now) {
		// Lazy cleanup of the dead row.
		if err := s.repo.Delete(ctx, token); err != nil {
			s.log.Warn().Err(err).Msg("failed to delete expired session")
		}
		return nil, nil
	}

	// Sliding expiry never extends past the absolute bound.
	newExpiry := now.Add(s.idleTTL)
	if newExpiry.After(session.AbsoluteExpiry) {
		newExpiry = session.AbsoluteExpiry
	}
	if err := s.repo.Touch(ctx, token, now, newExpiry); err != nil {
		s.log.Warn().Err(err).Msg("failed to refresh session activity")
	} else {
		session.ExpiresAt = newExpiry
		session.LastActiveAt = now
	}

	return session, nil
}

func (s *sessionService) Revoke(ctx context.Context, token string) error {
	if err := s.repo.Delete(ctx, token); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	return nil
}

func (s *sessionService) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	count, err := s.repo.DeleteByUser(ctx, nil, userID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	s.log.Info().Str("user_id", userID.String()).Int64("revoked", count).Msg("revoked all sessions")
	return nil
}
