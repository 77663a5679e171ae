package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated browser/device session. The token is the sole
// credential: an opaque random string, never derived from user data.
//
// A session carries two expiry horizons: ExpiresAt is the rolling idle
// expiry refreshed on activity, AbsoluteExpiry is fixed at creation and is
// never extended.
type Session struct {
	Token          string    `json:"-"`
	UserID         uuid.UUID `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	AbsoluteExpiry time.Time `json:"absolute_expiry"`
	LastActiveAt   time.Time `json:"last_active_at"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
}

// ValidAt reports whether the session is valid at the given instant:
// now < ExpiresAt and now < AbsoluteExpiry.
func (s *Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt) && now.Before(s.AbsoluteExpiry)
}
