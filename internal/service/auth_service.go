package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UsedTokenStore consumes single-use link-token ids. Implemented by the
// Redis used-token store.
type UsedTokenStore interface {
	MarkUsed(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}

// AuthServiceDeps bundles the collaborators of the auth service.
type AuthServiceDeps struct {
	Users      ports.UserRepository
	Sessions   ports.SessionRepository
	Attempts   ports.LoginAttemptRepository
	SessionSvc ports.SessionService
	Limiter    ports.RateLimiter
	Hash       ports.HashService
	Encryption ports.EncryptionService
	MFA        ports.MFAService
	LinkTokens ports.LinkTokenService
	UsedTokens UsedTokenStore // nil skips single-use enforcement
	Mailer     ports.MailSender
	Detector   ports.SuspiciousActivityDetector
	Security   ports.SecurityLogger
	Transactor ports.DBTransactor
}

// AuthOptions holds the tunables of the auth flows.
type AuthOptions struct {
	BaseURL         string // public origin used to build account links
	BackupCodeCount int
}

type authService struct {
	deps AuthServiceDeps
	opts AuthOptions
	log  zerolog.Logger
}

// NewAuthService creates the authentication service.
func NewAuthService(deps AuthServiceDeps, opts AuthOptions, log zerolog.Logger) ports.AuthService {
	if opts.BackupCodeCount <= 0 {
		opts.BackupCodeCount = 10
	}
	return &authService{deps: deps, opts: opts, log: log}
}

func (s *authService) Register(ctx context.Context, req ports.RegisterRequest) (*domain.User, error) {
	// Registration is limited per source address, not per email, or an
	// attacker could dodge the limit by varying the address they sign
	// up with.
	allowed, _ := s.deps.Limiter.CheckAllowed(ctx, "", req.IPAddress, ports.ActionRegistration)
	if !allowed {
		return nil, apperror.ErrRateLimitExceeded()
	}

	existing, err := s.deps.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if existing != nil {
		// Duplicate registrations count against the limiter so the
		// endpoint cannot be used to probe for accounts.
		s.recordLimiter(ctx, "", req.IPAddress, ports.ActionRegistration, false)
		return nil, apperror.ErrEmailExists()
	}

	hash, err := s.deps.Hash.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         domain.RoleMember,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Users.Create(ctx, user); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.recordLimiter(ctx, "", req.IPAddress, ports.ActionRegistration, false)

	s.sendVerificationEmail(user)

	s.log.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return user, nil
}

// Login runs the two-phase credential check. Phase one verifies the
// password; when MFA is enabled the caller gets RequiresMFA back and
// must repeat the request with a TOTP or backup code. Only the second,
// complete phase creates a session.
func (s *authService) Login(ctx context.Context, req ports.LoginRequest) (*ports.LoginResult, error) {
	allowed, _ := s.deps.Limiter.CheckAllowed(ctx, req.Email, req.IPAddress, ports.ActionLogin)
	if !allowed {
		s.recordAttempt(ctx, req, false, domain.FailureRateLimited)
		s.recordSecurity(ctx, nil, domain.SecurityLoginRateLimited, req.IPAddress, req.UserAgent, "")
		return nil, apperror.ErrRateLimitExceeded()
	}

	user, err := s.deps.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return nil, s.failLogin(ctx, req, nil, domain.FailureInvalidCredentials)
	}

	ok, err := s.deps.Hash.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if !ok {
		return nil, s.failLogin(ctx, req, user, domain.FailureInvalidCredentials)
	}

	if !user.IsActive() {
		s.recordAttempt(ctx, req, false, domain.FailureAccountSuspended)
		return nil, apperror.ErrAccountSuspended()
	}
	if !user.EmailVerified {
		s.recordAttempt(ctx, req, false, domain.FailureEmailUnverified)
		return nil, apperror.ErrEmailNotVerified()
	}

	if user.MFAEnabled {
		if req.MFAToken == "" {
			// Password accepted, waiting on the second factor. Not a
			// failure: the limiter counter is left untouched.
			s.recordAttempt(ctx, req, false, domain.FailureMFARequired)
			return &ports.LoginResult{RequiresMFA: true}, nil
		}
		valid, err := s.verifySecondFactor(ctx, user, req.MFAToken)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, s.failLogin(ctx, req, user, domain.FailureInvalidMFACode)
		}
	}

	session, err := s.deps.SessionSvc.Create(ctx, user.ID, req.IPAddress, req.UserAgent)
	if err != nil {
		return nil, err
	}

	suspicious, _ := s.deps.Detector.Evaluate(ctx, user.ID, req.IPAddress, req.UserAgent)
	if suspicious {
		s.recordSecurity(ctx, &user.ID, domain.SecuritySuspiciousLogin, req.IPAddress, req.UserAgent, "")
	}

	s.recordAttempt(ctx, req, true, "")
	s.recordLimiter(ctx, req.Email, req.IPAddress, ports.ActionLogin, true)
	s.recordSecurity(ctx, &user.ID, domain.SecurityLoginSuccess, req.IPAddress, req.UserAgent, "")

	return &ports.LoginResult{
		Token:      session.Token,
		ExpiresAt:  session.ExpiresAt,
		User:       user,
		Suspicious: suspicious,
	}, nil
}

// verifySecondFactor accepts either a current TOTP code or an unspent
// backup code.
func (s *authService) verifySecondFactor(ctx context.Context, user *domain.User, token string) (bool, error) {
	if user.MFASecretEnc == nil {
		return false, apperror.ErrMFANotConfigured()
	}
	secret, err := s.deps.Encryption.Decrypt(*user.MFASecretEnc)
	if err != nil {
		return false, apperror.InternalError(err)
	}
	if s.deps.MFA.ValidateCode(secret, token) {
		return true, nil
	}

	consumed, err := s.deps.Users.ConsumeBackupCode(ctx, user.ID, s.deps.MFA.HashBackupCode(token))
	if err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	return consumed, nil
}

// failLogin records a failed attempt everywhere it must land and returns
// the uniform credentials error. user is nil for unknown accounts; the
// response is identical either way.
func (s *authService) failLogin(ctx context.Context, req ports.LoginRequest, user *domain.User, reason string) error {
	s.recordAttempt(ctx, req, false, reason)
	s.recordLimiter(ctx, req.Email, req.IPAddress, ports.ActionLogin, false)

	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	s.recordSecurity(ctx, userID, domain.SecurityLoginFailed, req.IPAddress, req.UserAgent, fmt.Sprintf(`{"reason":%q}`, reason))

	if reason == domain.FailureInvalidMFACode {
		return apperror.ErrInvalidMFACode()
	}
	return apperror.ErrInvalidCredentials()
}

func (s *authService) Logout(ctx context.Context, token string) error {
	if err := s.deps.SessionSvc.Revoke(ctx, token); err != nil {
		return err
	}
	s.recordSecurity(ctx, nil, domain.SecuritySessionRevoked, "", "", "")
	return nil
}

func (s *authService) ForgotPassword(ctx context.Context, email, ip string) error {
	allowed, _ := s.deps.Limiter.CheckAllowed(ctx, email, ip, ports.ActionPasswordReset)
	if !allowed {
		return apperror.ErrRateLimitExceeded()
	}
	s.recordLimiter(ctx, email, ip, ports.ActionPasswordReset, false)

	user, err := s.deps.Users.GetByEmail(ctx, email)
	if err != nil {
		s.log.Error().Err(err).Msg("password reset lookup failed")
		return nil
	}
	if user == nil || !user.IsActive() {
		// Same outcome as the happy path so the endpoint reveals nothing.
		return nil
	}

	token, _, err := s.deps.LinkTokens.Generate(user.ID, user.Email, ports.PurposePasswordReset)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to issue password reset token")
		return nil
	}

	link := s.buildLink("/reset-password", token)
	s.sendAsync(func(bg context.Context) error {
		return s.deps.Mailer.SendPasswordResetEmail(bg, user.Email, link)
	}, "password reset email")

	s.recordSecurity(ctx, &user.ID, domain.SecurityPasswordResetSent, ip, "", "")
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.deps.LinkTokens.Validate(token, ports.PurposePasswordReset)
	if err != nil {
		return apperror.ErrInvalidLinkToken()
	}

	if err := s.consumeLinkToken(ctx, claims); err != nil {
		return err
	}

	hash, err := s.deps.Hash.Hash(newPassword)
	if err != nil {
		return apperror.InternalError(err)
	}

	// New password and session revocation land atomically: no window
	// where old sessions outlive the credential that created them.
	tx, err := s.deps.Transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx)

	if err := s.deps.Users.UpdatePassword(ctx, tx, claims.UserID, hash); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if _, err := s.deps.Sessions.DeleteByUser(ctx, tx, claims.UserID); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	s.recordSecurity(ctx, &claims.UserID, domain.SecurityPasswordReset, "", "", "")
	return nil
}

func (s *authService) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.deps.LinkTokens.Validate(token, ports.PurposeEmailVerify)
	if err != nil {
		return apperror.ErrInvalidLinkToken()
	}

	if err := s.consumeLinkToken(ctx, claims); err != nil {
		return err
	}

	if err := s.deps.Users.SetEmailVerified(ctx, claims.UserID); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	s.recordSecurity(ctx, &claims.UserID, domain.SecurityEmailVerified, "", "", "")
	return nil
}

func (s *authService) SetupMFA(ctx context.Context, userID uuid.UUID) (string, string, error) {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return "", "", apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return "", "", apperror.ErrNotFound("User")
	}

	secret, otpauthURL, err := s.deps.MFA.GenerateSecret(user.Email)
	if err != nil {
		return "", "", apperror.InternalError(err)
	}
	encrypted, err := s.deps.Encryption.Encrypt(secret)
	if err != nil {
		return "", "", apperror.InternalError(err)
	}

	// Secret is staged but MFA stays off until the user proves they can
	// produce a code from it.
	if err := s.deps.Users.UpdateMFA(ctx, userID, false, &encrypted, nil); err != nil {
		return "", "", apperror.ErrDatabaseError(err)
	}
	return secret, otpauthURL, nil
}

func (s *authService) EnableMFA(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return nil, apperror.ErrNotFound("User")
	}
	if user.MFASecretEnc == nil {
		return nil, apperror.ErrMFANotConfigured()
	}

	secret, err := s.deps.Encryption.Decrypt(*user.MFASecretEnc)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if !s.deps.MFA.ValidateCode(secret, code) {
		return nil, apperror.ErrInvalidMFACode()
	}

	codes, hashes, err := s.deps.MFA.GenerateBackupCodes(s.opts.BackupCodeCount)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if err := s.deps.Users.UpdateMFA(ctx, userID, true, user.MFASecretEnc, hashes); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.recordSecurity(ctx, &userID, domain.SecurityMFAEnabled, "", "", "")
	return codes, nil
}

func (s *authService) DisableMFA(ctx context.Context, userID uuid.UUID, password string) error {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return apperror.ErrNotFound("User")
	}

	ok, err := s.deps.Hash.Verify(password, user.PasswordHash)
	if err != nil {
		return apperror.InternalError(err)
	}
	if !ok {
		return apperror.ErrInvalidCredentials()
	}

	if err := s.deps.Users.UpdateMFA(ctx, userID, false, nil, nil); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	s.recordSecurity(ctx, &userID, domain.SecurityMFADisabled, "", "", "")
	return nil
}

// consumeLinkToken enforces single use of a link token via its jti. A
// replayed token is indistinguishable from an invalid one.
func (s *authService) consumeLinkToken(ctx context.Context, claims *ports.LinkTokenClaims) error {
	if s.deps.UsedTokens == nil || claims.TokenID == "" {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	first, err := s.deps.UsedTokens.MarkUsed(ctx, claims.TokenID, ttl)
	if err != nil {
		return apperror.InternalError(err)
	}
	if !first {
		return apperror.ErrInvalidLinkToken()
	}
	return nil
}

func (s *authService) sendVerificationEmail(user *domain.User) {
	token, _, err := s.deps.LinkTokens.Generate(user.ID, user.Email, ports.PurposeEmailVerify)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to issue verification token")
		return
	}
	link := s.buildLink("/verify-email", token)
	s.sendAsync(func(bg context.Context) error {
		return s.deps.Mailer.SendVerificationEmail(bg, user.Email, link)
	}, "verification email")
}

func (s *authService) buildLink(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", s.opts.BaseURL, path, url.QueryEscape(token))
}

func (s *authService) sendAsync(send func(ctx context.Context) error, what string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := send(ctx); err != nil {
			s.log.Error().Err(err).Msgf("failed to send %s", what)
		}
	}()
}

func (s *authService) recordAttempt(ctx context.Context, req ports.LoginRequest, success bool, reason string) {
	attempt := &domain.LoginAttempt{
		ID:        uuid.New(),
		Email:     req.Email,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   success,
		CreatedAt: time.Now().UTC(),
	}
	if reason != "" {
		attempt.FailureReason = &reason
	}
	if err := s.deps.Attempts.Create(ctx, attempt); err != nil {
		s.log.Warn().Err(err).Msg("failed to record login attempt")
	}
}

func (s *authService) recordLimiter(ctx context.Context, identity, ip string, action ports.RateLimitAction, success bool) {
	if err := s.deps.Limiter.RecordAttempt(ctx, identity, ip, action, success); err != nil {
		s.log.Warn().Err(err).Str("action", string(action)).Msg("failed to update rate limit counter")
	}
}

func (s *authService) recordSecurity(ctx context.Context, userID *uuid.UUID, action domain.SecurityAction, ip, userAgent, details string) {
	s.deps.Security.Record(ctx, &domain.SecurityEvent{
		UserID:    userID,
		Action:    action,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   details,
	})
}
