package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports/mocks"
	"mindwell-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func httpResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// fakeDedupCache is an in-memory DedupCache for tests.
type fakeDedupCache struct {
	entries map[string]string
}

func newFakeDedupCache() *fakeDedupCache {
	return &fakeDedupCache{entries: make(map[string]string)}
}

func (f *fakeDedupCache) Get(ctx context.Context, fingerprint string) (string, error) {
	return f.entries[fingerprint], nil
}

func (f *fakeDedupCache) Set(ctx context.Context, fingerprint, eventID string, ttl time.Duration) error {
	f.entries[fingerprint] = eventID
	return nil
}

type webhookFixture struct {
	svc    *webhookService
	events *mocks.MockWebhookEventRepository
	logs   *mocks.MockWebhookLogRepository
	sign   *mocks.MockSignatureService
	secLog *mocks.MockSecurityLogger
	client *mockHTTPClient
	dedup  *fakeDedupCache
	ctrl   *gomock.Controller
}

func setupWebhookService(t *testing.T) *webhookFixture {
	ctrl := gomock.NewController(t)
	f := &webhookFixture{
		events: mocks.NewMockWebhookEventRepository(ctrl),
		logs:   mocks.NewMockWebhookLogRepository(ctrl),
		sign:   mocks.NewMockSignatureService(ctrl),
		secLog: mocks.NewMockSecurityLogger(ctrl),
		client: &mockHTTPClient{},
		dedup:  newFakeDedupCache(),
		ctrl:   ctrl,
	}

	opts := WebhookOptions{
		TargetURL: "https://destination.example.com/hooks",
		Secret:    "hook-secret",
		Policy: domain.RetryPolicy{
			Strategy:   domain.RetryExponential,
			BaseDelay:  30 * time.Second,
			MaxDelay:   time.Hour,
			MaxRetries: 3,
		},
		Timeout:   5 * time.Second,
		BatchSize: 50,
		DedupTTL:  10 * time.Minute,
	}
	f.svc = NewWebhookService(f.events, f.logs, f.sign, f.client, f.dedup, f.secLog, opts, zerolog.Nop()).(*webhookService)
	return f
}

func processingEvent(retryCount int) *domain.WebhookEvent {
	now := time.Now().UTC()
	return &domain.WebhookEvent{
		ID:         uuid.New(),
		EventType:  "users.created",
		Source:     "crm",
		Status:     domain.WebhookStatusPending,
		Payload:    `{"type":"INSERT","table":"users","schema":"public"}`,
		RetryCount: retryCount,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestWebhookService_Ingest_ClassifiesChangePayload(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	var created *domain.WebhookEvent
	f.events.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *domain.WebhookEvent) error {
		created = e
		return nil
	})

	event, err := f.svc.Ingest(context.Background(), "crm", []byte(`{"type":"INSERT","table":"Users","schema":"public"}`))
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "users.created", event.EventType)
	assert.Equal(t, domain.WebhookStatusPending, event.Status)
	assert.Equal(t, 3, event.MaxRetries)
	assert.Zero(t, event.RetryCount)
}

func TestWebhookService_Ingest_ClassifiesCustomPayload(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	f.events.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	event, err := f.svc.Ingest(context.Background(), "app", []byte(`{"event":"custom.thing"}`))
	require.NoError(t, err)
	assert.Equal(t, "custom.thing", event.EventType)
}

func TestWebhookService_Ingest_UnknownShapeStillSucceeds(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	f.events.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	event, err := f.svc.Ingest(context.Background(), "app", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeUnknown, event.EventType)
}

func TestWebhookService_Ingest_SuppressesDuplicate(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	payload := []byte(`{"event":"assessment.completed"}`)

	var firstID uuid.UUID
	f.events.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *domain.WebhookEvent) error {
		firstID = e.ID
		return nil
	})

	first, err := f.svc.Ingest(context.Background(), "app", payload)
	require.NoError(t, err)

	// Second ingestion of the same bytes hits the dedup cache and returns
	// the stored event instead of creating a new row.
	f.events.EXPECT().GetByID(gomock.Any(), firstID).Return(first, nil)

	second, err := f.svc.Ingest(context.Background(), "app", payload)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestWebhookService_Ingest_DifferentSourceIsNotADuplicate(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	payload := []byte(`{"event":"assessment.completed"}`)
	f.events.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	first, err := f.svc.Ingest(context.Background(), "app", payload)
	require.NoError(t, err)
	second, err := f.svc.Ingest(context.Background(), "crm", payload)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestWebhookService_Deliver_Success(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(0)

	var gotSignature, gotEventType string
	f.client.doFunc = func(req *http.Request) (*http.Response, error) {
		gotSignature = req.Header.Get("X-Mindwell-Signature")
		gotEventType = req.Header.Get("X-Mindwell-Event")
		return httpResponse(200, `{"ok":true}`), nil
	}

	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), event.ID).Return(true, nil)
	f.sign.EXPECT().Sign("hook-secret", gomock.Any()).Return("sig-hash")
	f.logs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, l *domain.WebhookDeliveryLog) error {
		assert.Equal(t, 1, l.Attempt)
		assert.Equal(t, event.ID, l.EventID)
		return nil
	})
	f.events.EXPECT().FinishProcessing(gomock.Any(), gomock.Any()).Return(true, nil)

	result, err := f.svc.Deliver(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusDelivered, result.Status)
	assert.Nil(t, result.NextRetryAt)
	assert.Equal(t, "sig-hash", gotSignature)
	assert.Equal(t, "users.created", gotEventType)
	require.NotNil(t, result.ResponseCode)
	assert.Equal(t, 200, *result.ResponseCode)
}

func TestWebhookService_Deliver_FailureSchedulesRetry(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(0)
	f.client.doFunc = func(req *http.Request) (*http.Response, error) {
		return httpResponse(500, "upstream error"), nil
	}

	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), event.ID).Return(true, nil)
	f.sign.EXPECT().Sign("hook-secret", gomock.Any()).Return("sig")
	f.logs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	f.events.EXPECT().FinishProcessing(gomock.Any(), gomock.Any()).Return(true, nil)

	before := time.Now().UTC()
	result, err := f.svc.Deliver(context.Background(), event.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WebhookStatusRetrying, result.Status)
	assert.Equal(t, 1, result.RetryCount)
	require.NotNil(t, result.NextRetryAt)
	// Exponential backoff: 30s * 2^1 after the first failure.
	assert.WithinDuration(t, before.Add(time.Minute), *result.NextRetryAt, 2*time.Second)
}

func TestWebhookService_Deliver_TransportErrorSchedulesRetry(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(0)
	f.client.doFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}

	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), event.ID).Return(true, nil)
	f.sign.EXPECT().Sign("hook-secret", gomock.Any()).Return("sig")
	f.logs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	f.events.EXPECT().FinishProcessing(gomock.Any(), gomock.Any()).Return(true, nil)

	result, err := f.svc.Deliver(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusRetrying, result.Status)
	assert.Nil(t, result.ResponseCode)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "connection refused")
}

func TestWebhookService_Deliver_LastFailureExhaustsRetries(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(2)
	event.Status = domain.WebhookStatusRetrying

	f.client.doFunc = func(req *http.Request) (*http.Response, error) {
		return httpResponse(503, "still broken"), nil
	}

	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), event.ID).Return(true, nil)
	f.sign.EXPECT().Sign("hook-secret", gomock.Any()).Return("sig")
	f.logs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	f.secLog.EXPECT().Record(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e *domain.SecurityEvent) {
		assert.Equal(t, domain.SecurityWebhookExhausted, e.Action)
	})
	f.events.EXPECT().FinishProcessing(gomock.Any(), gomock.Any()).Return(true, nil)

	result, err := f.svc.Deliver(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusFailed, result.Status)
	assert.Equal(t, 3, result.RetryCount)
	assert.Nil(t, result.NextRetryAt)
}

func TestWebhookService_Deliver_AlreadyDelivered(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(0)
	event.Status = domain.WebhookStatusDelivered
	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)

	_, err := f.svc.Deliver(context.Background(), event.ID)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "HOOK_003", appErr.Code)
}

func TestWebhookService_Deliver_LosesClaimRace(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(0)
	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), event.ID).Return(false, nil)

	_, err := f.svc.Deliver(context.Background(), event.ID)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "HOOK_002", appErr.Code)
}

func TestWebhookService_Deliver_UnknownEvent(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	id := uuid.New()
	f.events.EXPECT().GetByID(gomock.Any(), id).Return(nil, nil)

	_, err := f.svc.Deliver(context.Background(), id)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "ACCT_002", appErr.Code)
}

func TestWebhookService_Retry_ExhaustedEvent(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(3)
	event.Status = domain.WebhookStatusFailed
	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)

	_, err := f.svc.Retry(context.Background(), event.ID)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "HOOK_001", appErr.Code)
}

func TestWebhookService_Retry_IgnoresScheduledRetryTime(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(1)
	event.Status = domain.WebhookStatusRetrying
	future := time.Now().UTC().Add(time.Hour)
	event.NextRetryAt = &future

	f.client.doFunc = func(req *http.Request) (*http.Response, error) {
		return httpResponse(204, ""), nil
	}

	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), event.ID).Return(true, nil)
	f.sign.EXPECT().Sign("hook-secret", gomock.Any()).Return("sig")
	f.logs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	f.events.EXPECT().FinishProcessing(gomock.Any(), gomock.Any()).Return(true, nil)

	result, err := f.svc.Retry(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusDelivered, result.Status)
}

func TestWebhookService_Deliver_ConcurrentResultWins(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(0)
	f.client.doFunc = func(req *http.Request) (*http.Response, error) {
		return httpResponse(200, "ok"), nil
	}

	resolved := processingEvent(0)
	resolved.ID = event.ID
	resolved.Status = domain.WebhookStatusDelivered

	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), event.ID).Return(true, nil)
	f.sign.EXPECT().Sign("hook-secret", gomock.Any()).Return("sig")
	f.logs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	// The guarded write misses: someone else finished the event first.
	f.events.EXPECT().FinishProcessing(gomock.Any(), gomock.Any()).Return(false, nil)
	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(resolved, nil)

	result, err := f.svc.Deliver(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Same(t, resolved, result)
}

func TestWebhookService_ProcessDue(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	ok := processingEvent(0)
	racing := processingEvent(0)

	f.client.doFunc = func(req *http.Request) (*http.Response, error) {
		return httpResponse(200, "ok"), nil
	}

	f.events.EXPECT().ListDue(gomock.Any(), gomock.Any(), 50).
		Return([]domain.WebhookEvent{*ok, *racing}, nil)

	// First event delivers.
	f.events.EXPECT().GetByID(gomock.Any(), ok.ID).Return(ok, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), ok.ID).Return(true, nil)
	f.sign.EXPECT().Sign("hook-secret", gomock.Any()).Return("sig")
	f.logs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	f.events.EXPECT().FinishProcessing(gomock.Any(), gomock.Any()).Return(true, nil)

	// Second event is claimed by a concurrent worker. Skipped, not fatal.
	f.events.EXPECT().GetByID(gomock.Any(), racing.ID).Return(racing, nil)
	f.events.EXPECT().ClaimProcessing(gomock.Any(), racing.ID).Return(false, nil)

	delivered, err := f.svc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestWebhookService_Logs(t *testing.T) {
	f := setupWebhookService(t)
	defer f.ctrl.Finish()

	event := processingEvent(1)
	f.events.EXPECT().GetByID(gomock.Any(), event.ID).Return(event, nil)
	f.logs.EXPECT().ListByEvent(gomock.Any(), event.ID).Return([]domain.WebhookDeliveryLog{
		{EventID: event.ID, Attempt: 1},
	}, nil)

	logs, err := f.svc.Logs(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].Attempt)
}
