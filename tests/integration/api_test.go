package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mindwell-platform/internal/adapter/http/handler"
	redisStore "mindwell-platform/internal/adapter/storage/redis"
	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAESKey     = "6368616e676520746869732070617373776f726420746f206120736563726574"
	testHookSecret = "hook-secret"
)

// captureMailer records account links instead of sending email. Links
// arrive over channels because the auth service mails asynchronously.
type captureMailer struct {
	verify chan string
	reset  chan string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{
		verify: make(chan string, 8),
		reset:  make(chan string, 8),
	}
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, _, link string) error {
	m.verify <- link
	return nil
}

func (m *captureMailer) SendPasswordResetEmail(_ context.Context, _, link string) error {
	m.reset <- link
	return nil
}

func waitLink(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case link := <-ch:
		return link
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for account email")
		return ""
	}
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

// destination is the webhook receiver on the far side of the pipeline.
type destRequest struct {
	Body    string
	Headers http.Header
}

type destination struct {
	status   atomic.Int32
	mu       sync.Mutex
	requests []destRequest
	received chan destRequest
}

func newDestination() *destination {
	d := &destination{received: make(chan destRequest, 16)}
	d.status.Store(http.StatusOK)
	return d
}

func (d *destination) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req := destRequest{Body: string(body), Headers: r.Header.Clone()}
		d.mu.Lock()
		d.requests = append(d.requests, req)
		d.mu.Unlock()
		d.received <- req
		w.WriteHeader(int(d.status.Load()))
	})
}

func (d *destination) waitRequest(t *testing.T) destRequest {
	t.Helper()
	select {
	case req := <-d.received:
		return req
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return destRequest{}
	}
}

func (d *destination) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type testEnv struct {
	t          *testing.T
	ts         *httptest.Server
	users      *memUserRepo
	sessions   *memSessionRepo
	attempts   *memLoginAttemptRepo
	secEvents  *memSecurityEventRepo
	mailer     *captureMailer
	hash       ports.HashService
	webhookSvc ports.WebhookService
	dest       *destination
	destServer *httptest.Server
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := newMemUserRepo()
	sessions := newMemSessionRepo()
	attempts := newMemLoginAttemptRepo()
	events := newMemWebhookEventRepo()
	hookLogs := newMemWebhookLogRepo()
	secEvents := newMemSecurityEventRepo()
	mailer := newCaptureMailer()

	hashSvc := service.NewArgon2HashService()
	encSvc, err := service.NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	mfaSvc := service.NewTOTPService("MindWell")
	linkTokens := service.NewJWTLinkTokenService("link-secret", "mindwell-platform", 24*time.Hour, time.Hour)

	limiter := service.NewRateLimitService(redisStore.NewAttemptStore(client), nil, log)
	sessionSvc := service.NewSessionService(sessions, 30*time.Minute, 720*time.Hour, log)
	secLog := service.NewSecurityService(secEvents, log)
	detector := service.NewActivityDetector(sessions, 5, log)

	authSvc := service.NewAuthService(service.AuthServiceDeps{
		Users:      users,
		Sessions:   sessions,
		Attempts:   attempts,
		SessionSvc: sessionSvc,
		Limiter:    limiter,
		Hash:       hashSvc,
		Encryption: encSvc,
		MFA:        mfaSvc,
		LinkTokens: linkTokens,
		UsedTokens: redisStore.NewUsedTokenStore(client),
		Mailer:     mailer,
		Detector:   detector,
		Security:   secLog,
		Transactor: memTransactor{},
	}, service.AuthOptions{
		BaseURL:         "https://app.example.com",
		BackupCodeCount: 10,
	}, log)

	dest := newDestination()
	destServer := httptest.NewServer(dest.handler())
	t.Cleanup(destServer.Close)

	webhookSvc := service.NewWebhookService(
		events,
		hookLogs,
		service.NewHMACSignatureService(),
		destServer.Client(),
		redisStore.NewIngestCache(client),
		secLog,
		service.WebhookOptions{
			TargetURL: destServer.URL,
			Secret:    testHookSecret,
			Policy: domain.RetryPolicy{
				Strategy:   domain.RetryExponential,
				BaseDelay:  30 * time.Second,
				MaxDelay:   time.Hour,
				MaxRetries: 3,
			},
			Timeout:   5 * time.Second,
			BatchSize: 50,
			DedupTTL:  10 * time.Minute,
		},
		log,
	)

	router := handler.SetupRouter(handler.RouterDeps{
		AuthSvc:        authSvc,
		SessionSvc:     sessionSvc,
		WebhookSvc:     webhookSvc,
		UserRepo:       users,
		HealthCheckers: []ports.HealthChecker{redisStore.NewHealthCheck(client)},
		Logger:         log,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{
		t:          t,
		ts:         ts,
		users:      users,
		sessions:   sessions,
		attempts:   attempts,
		secEvents:  secEvents,
		mailer:     mailer,
		hash:       hashSvc,
		webhookSvc: webhookSvc,
		dest:       dest,
		destServer: destServer,
	}
}

// request performs a JSON API call. A non-empty token goes in the
// Authorization header.
func (e *testEnv) request(method, path string, body any, token string) (int, map[string]interface{}) {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func data(resp map[string]interface{}) map[string]interface{} {
	d, _ := resp["data"].(map[string]interface{})
	return d
}

// seedUser inserts a verified account directly, bypassing the
// registration endpoint and its per-address limiter.
func (e *testEnv) seedUser(email, password string, role domain.Role) *domain.User {
	e.t.Helper()
	hash, err := e.hash.Hash(password)
	require.NoError(e.t, err)

	now := time.Now().UTC()
	user := &domain.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		Status:        domain.UserStatusActive,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(e.t, e.users.Create(context.Background(), user))
	return user
}

func (e *testEnv) loginToken(email, password string) string {
	e.t.Helper()
	code, resp := e.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, "")
	require.Equal(e.t, http.StatusOK, code, "login response: %v", resp)
	token, _ := data(resp)["token"].(string)
	require.NotEmpty(e.t, token)
	return token
}

func TestRegisterVerifyLoginLogout(t *testing.T) {
	env := setupEnv(t)

	// Register
	code, resp := env.request(http.MethodPost, "/api/v1/auth/register",
		map[string]string{"email": "member@example.com", "password": "password123"}, "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "member@example.com", data(resp)["email"])

	// Login before verification is rejected
	code, resp = env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "member@example.com", "password": "password123"}, "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "AUTH_004", resp["error_code"])

	// Verify via the emailed link
	verifyToken := tokenFromLink(t, waitLink(t, env.mailer.verify))
	code, _ = env.request(http.MethodPost, "/api/v1/auth/verify-email",
		map[string]string{"token": verifyToken}, "")
	require.Equal(t, http.StatusOK, code)

	// Login and inspect the session
	token := env.loginToken("member@example.com", "password123")
	code, resp = env.request(http.MethodGet, "/api/v1/auth/me", nil, token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "member@example.com", data(resp)["email"])
	assert.Equal(t, true, data(resp)["email_verified"])

	// Logout kills the session
	code, _ = env.request(http.MethodPost, "/api/v1/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, code)
	code, resp = env.request(http.MethodGet, "/api/v1/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTH_002", resp["error_code"])
}

func TestVerificationLinkSingleUse(t *testing.T) {
	env := setupEnv(t)

	code, _ := env.request(http.MethodPost, "/api/v1/auth/register",
		map[string]string{"email": "once@example.com", "password": "password123"}, "")
	require.Equal(t, http.StatusCreated, code)

	verifyToken := tokenFromLink(t, waitLink(t, env.mailer.verify))

	code, _ = env.request(http.MethodPost, "/api/v1/auth/verify-email",
		map[string]string{"token": verifyToken}, "")
	require.Equal(t, http.StatusOK, code)

	// Replay is rejected
	code, resp := env.request(http.MethodPost, "/api/v1/auth/verify-email",
		map[string]string{"token": verifyToken}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTH_003", resp["error_code"])
}

func TestDuplicateRegistrationConflict(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("taken@example.com", "password123", domain.RoleMember)

	code, resp := env.request(http.MethodPost, "/api/v1/auth/register",
		map[string]string{"email": "Taken@Example.com", "password": "password123"}, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ACCT_001", resp["error_code"])
}

func TestPasswordResetRevokesSessions(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("reset@example.com", "oldpassword1", domain.RoleMember)

	oldToken := env.loginToken("reset@example.com", "oldpassword1")

	code, _ := env.request(http.MethodPost, "/api/v1/auth/forgot-password",
		map[string]string{"email": "reset@example.com"}, "")
	require.Equal(t, http.StatusOK, code)

	resetToken := tokenFromLink(t, waitLink(t, env.mailer.reset))
	code, _ = env.request(http.MethodPost, "/api/v1/auth/reset-password",
		map[string]string{"token": resetToken, "new_password": "newpassword1"}, "")
	require.Equal(t, http.StatusOK, code)

	// The pre-reset session is gone
	code, _ = env.request(http.MethodGet, "/api/v1/auth/me", nil, oldToken)
	assert.Equal(t, http.StatusUnauthorized, code)

	// Old password no longer works, new one does
	code, _ = env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "reset@example.com", "password": "oldpassword1"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	env.loginToken("reset@example.com", "newpassword1")

	// The reset link is single use
	code, resp := env.request(http.MethodPost, "/api/v1/auth/reset-password",
		map[string]string{"token": resetToken, "new_password": "another-pass1"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTH_003", resp["error_code"])
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("real@example.com", "password123", domain.RoleMember)

	code1, resp1 := env.request(http.MethodPost, "/api/v1/auth/forgot-password",
		map[string]string{"email": "real@example.com"}, "")
	code2, resp2 := env.request(http.MethodPost, "/api/v1/auth/forgot-password",
		map[string]string{"email": "ghost@example.com"}, "")

	assert.Equal(t, code1, code2)
	assert.Equal(t, resp1["data"], resp2["data"])
}

func TestLoginBruteForceLockout(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("victim@example.com", "correct-pass1", domain.RoleMember)

	for i := 0; i < 5; i++ {
		code, resp := env.request(http.MethodPost, "/api/v1/auth/login",
			map[string]string{"email": "victim@example.com", "password": "wrongpassword"}, "")
		require.Equal(t, http.StatusUnauthorized, code)
		require.Equal(t, "AUTH_001", resp["error_code"])
	}

	// Correct credentials are refused while locked out
	code, resp := env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "victim@example.com", "password": "correct-pass1"}, "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_001", resp["error_code"])

	assert.Contains(t, env.secEvents.actions(), domain.SecurityLoginRateLimited)
}

func TestUnknownAndWrongPasswordIndistinguishable(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("known@example.com", "password123", domain.RoleMember)

	code1, resp1 := env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "known@example.com", "password": "wrongpassword"}, "")
	code2, resp2 := env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "nobody@example.com", "password": "wrongpassword"}, "")

	assert.Equal(t, code1, code2)
	assert.Equal(t, resp1["error_code"], resp2["error_code"])
	assert.Equal(t, resp1["message"], resp2["message"])
}

func TestMFAEnrollmentAndLogin(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("mfa@example.com", "password123", domain.RoleMember)
	token := env.loginToken("mfa@example.com", "password123")

	// Stage the secret
	code, resp := env.request(http.MethodPost, "/api/v1/auth/mfa/setup", nil, token)
	require.Equal(t, http.StatusOK, code)
	secret, _ := data(resp)["secret"].(string)
	require.NotEmpty(t, secret)

	// Confirm with a live TOTP code
	otpCode, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	code, resp = env.request(http.MethodPost, "/api/v1/auth/mfa/enable",
		map[string]string{"code": otpCode}, token)
	require.Equal(t, http.StatusOK, code)
	backupCodes, _ := data(resp)["backup_codes"].([]interface{})
	require.Len(t, backupCodes, 10)

	// Phase one now yields the challenge, not a session
	code, resp = env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "mfa@example.com", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(resp)["requires_mfa"])
	assert.NotContains(t, data(resp), "token")

	// Phase two with a TOTP code completes the login
	otpCode, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	code, resp = env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "mfa@example.com", "password": "password123", "mfa_token": otpCode}, "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, data(resp)["token"])

	// A backup code also completes the login, exactly once
	backup := backupCodes[0].(string)
	code, resp = env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "mfa@example.com", "password": "password123", "mfa_token": backup}, "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, data(resp)["token"])

	code, resp = env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "mfa@example.com", "password": "password123", "mfa_token": backup}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTH_007", resp["error_code"])
}

func TestWebhookDeliveryEndToEnd(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("admin@example.com", "adminpass123", domain.RoleAdmin)
	adminToken := env.loginToken("admin@example.com", "adminpass123")

	payload := `{"type":"INSERT","table":"Users","record":{"id":"u1"}}`
	code, resp := env.request(http.MethodPost, "/api/v1/webhooks/ingest",
		json.RawMessage(payload), "")
	require.Equal(t, http.StatusOK, code)
	eventID, _ := data(resp)["event_id"].(string)
	require.NotEmpty(t, eventID)
	assert.Equal(t, "users.created", data(resp)["event_type"])

	// The destination receives a signed request
	delivered := env.dest.waitRequest(t)
	assert.Equal(t, "users.created", delivered.Headers.Get("X-Mindwell-Event"))
	assert.Equal(t, eventID, delivered.Headers.Get("X-Mindwell-Delivery"))
	sig := delivered.Headers.Get("X-Mindwell-Signature")
	assert.True(t, service.NewHMACSignatureService().Verify(testHookSecret, delivered.Body, sig))

	// Status converges to DELIVERED
	require.Eventually(t, func() bool {
		c, r := env.request(http.MethodGet, "/api/v1/webhooks/"+eventID, nil, adminToken)
		return c == http.StatusOK && data(r)["status"] == "DELIVERED"
	}, 3*time.Second, 50*time.Millisecond)

	// Exactly one attempt in the audit trail
	code, resp = env.request(http.MethodGet, "/api/v1/webhooks/"+eventID+"/logs", nil, adminToken)
	require.Equal(t, http.StatusOK, code)
	logs, _ := resp["data"].([]interface{})
	require.Len(t, logs, 1)
	first := logs[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["attempt"])
	assert.Equal(t, float64(200), first["response_code"])
}

func TestWebhookRetryAfterFailure(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("admin@example.com", "adminpass123", domain.RoleAdmin)
	adminToken := env.loginToken("admin@example.com", "adminpass123")

	env.dest.status.Store(http.StatusServiceUnavailable)

	code, resp := env.request(http.MethodPost, "/api/v1/webhooks/ingest",
		json.RawMessage(`{"event":"payment.succeeded","id":"pay_1"}`), "")
	require.Equal(t, http.StatusOK, code)
	eventID, _ := data(resp)["event_id"].(string)
	env.dest.waitRequest(t)

	require.Eventually(t, func() bool {
		c, r := env.request(http.MethodGet, "/api/v1/webhooks/"+eventID, nil, adminToken)
		return c == http.StatusOK && data(r)["status"] == "RETRYING"
	}, 3*time.Second, 50*time.Millisecond)

	code, resp = env.request(http.MethodGet, "/api/v1/webhooks/"+eventID, nil, adminToken)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), data(resp)["retry_count"])
	assert.NotEmpty(t, data(resp)["next_retry_at"])

	// Manual retry ignores the schedule; destination has recovered
	env.dest.status.Store(http.StatusOK)
	code, resp = env.request(http.MethodPost, "/api/v1/webhooks/"+eventID+"/retry", nil, adminToken)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DELIVERED", data(resp)["status"])
	env.dest.waitRequest(t)
}

func TestWebhookIngestDeduplicated(t *testing.T) {
	env := setupEnv(t)

	payload := json.RawMessage(`{"event":"appointment.booked","id":"apt_42"}`)
	code, resp1 := env.request(http.MethodPost, "/api/v1/webhooks/ingest", payload, "")
	require.Equal(t, http.StatusOK, code)
	code, resp2 := env.request(http.MethodPost, "/api/v1/webhooks/ingest", payload, "")
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, data(resp1)["event_id"], data(resp2)["event_id"])
}

func TestWebhookEndpointsRequireAdmin(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("member@example.com", "password123", domain.RoleMember)
	memberToken := env.loginToken("member@example.com", "password123")

	id := uuid.New().String()
	for _, probe := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/webhooks/" + id},
		{http.MethodGet, "/api/v1/webhooks/" + id + "/logs"},
		{http.MethodPost, "/api/v1/webhooks/" + id + "/retry"},
	} {
		code, resp := env.request(probe.method, probe.path, nil, memberToken)
		assert.Equal(t, http.StatusForbidden, code, "%s %s", probe.method, probe.path)
		assert.Equal(t, "AUTH_006", resp["error_code"])

		// And no access at all without a session
		code, _ = env.request(probe.method, probe.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupEnv(t)

	code, resp := env.request(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp["status"])
}

func TestLoginAttemptAudit(t *testing.T) {
	env := setupEnv(t)
	env.seedUser("audit@example.com", "password123", domain.RoleMember)

	env.request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "audit@example.com", "password": "wrongpassword"}, "")
	env.loginToken("audit@example.com", "password123")

	attempts := env.attempts.all()
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Success)
	require.NotNil(t, attempts[0].FailureReason)
	assert.Equal(t, domain.FailureInvalidCredentials, *attempts[0].FailureReason)
	assert.True(t, attempts[1].Success)
}
