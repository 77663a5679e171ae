package service

import (
	"fmt"
	"time"

	"mindwell-platform/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTLinkTokenService implements ports.LinkTokenService using HS256 JWTs.
// These tokens back email-verification and password-reset links only;
// session tokens are opaque random strings and never JWTs.
type JWTLinkTokenService struct {
	secret    []byte
	issuer    string
	verifyTTL time.Duration
	resetTTL  time.Duration
}

// NewJWTLinkTokenService creates a new link token service.
func NewJWTLinkTokenService(secret, issuer string, verifyTTL, resetTTL time.Duration) *JWTLinkTokenService {
	return &JWTLinkTokenService{
		secret:    []byte(secret),
		issuer:    issuer,
		verifyTTL: verifyTTL,
		resetTTL:  resetTTL,
	}
}

func (s *JWTLinkTokenService) ttl(purpose ports.TokenPurpose) time.Duration {
	if purpose == ports.PurposePasswordReset {
		return s.resetTTL
	}
	return s.verifyTTL
}

// Generate creates a signed token scoped to one purpose for one user.
func (s *JWTLinkTokenService) Generate(userID uuid.UUID, email string, purpose ports.TokenPurpose) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl(purpose))

	claims := jwt.MapClaims{
		"sub":     userID.String(),
		"email":   email,
		"purpose": string(purpose),
		"jti":     uuid.New().String(),
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
		"iss":     s.issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate parses the token and checks signature, expiry, issuer and
// purpose. A token issued for one purpose never validates for another.
func (s *JWTLinkTokenService) Validate(tokenString string, purpose ports.TokenPurpose) (*ports.LinkTokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if p, _ := claims["purpose"].(string); p != string(purpose) {
		return nil, fmt.Errorf("token purpose mismatch")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, fmt.Errorf("missing subject claim")
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in token: %w", err)
	}

	email, _ := claims["email"].(string)
	jti, _ := claims["jti"].(string)

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	return &ports.LinkTokenClaims{
		UserID:    userID,
		Email:     email,
		TokenID:   jti,
		ExpiresAt: expiresAt,
	}, nil
}
