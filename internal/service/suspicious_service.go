package service

import (
	"context"
	"net/netip"

	"mindwell-platform/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type activityDetector struct {
	sessions    ports.SessionRepository
	historySize int
	log         zerolog.Logger
}

// NewActivityDetector creates the suspicious-login heuristic. It
// compares the incoming client fingerprint against the user's most
// recent sessions; any failure inside the detector degrades to "not
// suspicious" so it can never block a legitimate login.
func NewActivityDetector(sessions ports.SessionRepository, historySize int, log zerolog.Logger) ports.SuspiciousActivityDetector {
	if historySize <= 0 {
		historySize = 5
	}
	return &activityDetector{
		sessions:    sessions,
		historySize: historySize,
		log:         log,
	}
}

func (d *activityDetector) Evaluate(ctx context.Context, userID uuid.UUID, ipAddress, userAgent string) (bool, error) {
	history, err := d.sessions.RecentByUser(ctx, userID, d.historySize)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", userID.String()).Msg("suspicious activity check failed, skipping")
		return false, nil
	}
	if len(history) == 0 {
		// First session ever; nothing to compare against.
		return false, nil
	}

	currentPrefix, havePrefix := networkPrefix(ipAddress)

	uaSeen := false
	prefixSeen := !havePrefix // unparseable address cannot establish novelty
	for _, s := range history {
		if s.UserAgent == userAgent {
			uaSeen = true
		}
		if havePrefix {
			if p, ok := networkPrefix(s.IPAddress); ok && p == currentPrefix {
				prefixSeen = true
			}
		}
	}

	return !uaSeen && !prefixSeen, nil
}

// networkPrefix reduces an address to its coarse network: /16 for
// IPv4, /48 for IPv6. Carrier NAT and DHCP churn make exact-IP
// comparison useless.
func networkPrefix(raw string) (string, bool) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", false
	}
	bits := 48
	if addr.Is4() {
		bits = 16
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "", false
	}
	return prefix.String(), true
}
