package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Response bodies from the destination are truncated before storage.
const maxResponseBodyBytes = 4096

// HTTPClient abstracts the HTTP client for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DedupCache suppresses duplicate ingestions for a short window, keyed
// by payload fingerprint. Implemented by the Redis ingest cache.
type DedupCache interface {
	Get(ctx context.Context, fingerprint string) (string, error)
	Set(ctx context.Context, fingerprint, eventID string, ttl time.Duration) error
}

// WebhookOptions configures the delivery pipeline.
type WebhookOptions struct {
	TargetURL string
	Secret    string
	Policy    domain.RetryPolicy
	Timeout   time.Duration
	BatchSize int
	DedupTTL  time.Duration
}

type webhookService struct {
	events     ports.WebhookEventRepository
	logs       ports.WebhookLogRepository
	signSvc    ports.SignatureService
	httpClient HTTPClient
	dedup      DedupCache // nil disables ingest deduplication
	secLog     ports.SecurityLogger
	opts       WebhookOptions
	log        zerolog.Logger
}

// NewWebhookService creates the webhook pipeline service.
func NewWebhookService(
	events ports.WebhookEventRepository,
	logs ports.WebhookLogRepository,
	signSvc ports.SignatureService,
	httpClient HTTPClient,
	dedup DedupCache,
	secLog ports.SecurityLogger,
	opts WebhookOptions,
	log zerolog.Logger,
) ports.WebhookService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &webhookService{
		events:     events,
		logs:       logs,
		signSvc:    signSvc,
		httpClient: httpClient,
		dedup:      dedup,
		secLog:     secLog,
		opts:       opts,
		log:        log,
	}
}

func ingestFingerprint(source string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *webhookService) Ingest(ctx context.Context, source string, payload []byte) (*domain.WebhookEvent, error) {
	classified := domain.ClassifyPayload(payload)
	eventType := classified.EventType()

	fingerprint := ingestFingerprint(source, payload)
	if s.dedup != nil {
		if existing := s.lookupDuplicate(ctx, fingerprint); existing != nil {
			s.log.Debug().
				Str("event_id", existing.ID.String()).
				Str("event_type", eventType).
				Msg("duplicate webhook ingestion suppressed")
			return existing, nil
		}
	}

	now := time.Now().UTC()
	event := &domain.WebhookEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		Source:     source,
		Status:     domain.WebhookStatusPending,
		Payload:    string(payload),
		MaxRetries: s.opts.Policy.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.events.Create(ctx, event); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	if s.dedup != nil {
		if err := s.dedup.Set(ctx, fingerprint, event.ID.String(), s.opts.DedupTTL); err != nil {
			s.log.Warn().Err(err).Msg("failed to cache ingest fingerprint")
		}
	}

	s.log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", eventType).
		Str("source", source).
		Msg("webhook event ingested")
	return event, nil
}

func (s *webhookService) lookupDuplicate(ctx context.Context, fingerprint string) *domain.WebhookEvent {
	cached, err := s.dedup.Get(ctx, fingerprint)
	if err != nil || cached == "" {
		return nil
	}
	id, err := uuid.Parse(cached)
	if err != nil {
		return nil
	}
	existing, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil
	}
	return existing
}

func (s *webhookService) Deliver(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if event == nil {
		return nil, apperror.ErrNotFound("Webhook event")
	}

	switch event.Status {
	case domain.WebhookStatusDelivered:
		return nil, apperror.ErrAlreadyDelivered()
	case domain.WebhookStatusFailed:
		return nil, apperror.ErrRetryExhausted()
	case domain.WebhookStatusProcessing:
		return nil, apperror.ErrDeliveryInProgress()
	}

	claimed, err := s.events.ClaimProcessing(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !claimed {
		// Lost the race to a concurrent worker.
		return nil, apperror.ErrDeliveryInProgress()
	}
	event.Status = domain.WebhookStatusProcessing

	return s.attempt(ctx, event)
}

// Retry re-enters delivery immediately, ignoring next_retry_at. Deliver
// already refuses terminal and in-flight events, which is exactly the
// manual-retry contract.
func (s *webhookService) Retry(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	return s.Deliver(ctx, id)
}

func (s *webhookService) ProcessDue(ctx context.Context) (int, error) {
	due, err := s.events.ListDue(ctx, time.Now().UTC(), s.opts.BatchSize)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}

	delivered := 0
	for i := range due {
		event, err := s.Deliver(ctx, due[i].ID)
		if err != nil {
			// Claim races and terminal states are expected here.
			s.log.Debug().Err(err).Str("event_id", due[i].ID.String()).Msg("skipped due event")
			continue
		}
		if event.Status == domain.WebhookStatusDelivered {
			delivered++
		}
	}
	return delivered, nil
}

func (s *webhookService) Get(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if event == nil {
		return nil, apperror.ErrNotFound("Webhook event")
	}
	return event, nil
}

func (s *webhookService) Logs(ctx context.Context, id uuid.UUID) ([]domain.WebhookDeliveryLog, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if event == nil {
		return nil, apperror.ErrNotFound("Webhook event")
	}

	logs, err := s.logs.ListByEvent(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return logs, nil
}

// deliveryEnvelope is the body posted to the destination.
type deliveryEnvelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// attempt performs one dispatch against the destination and records the
// outcome. The event must already be claimed as PROCESSING. Dispatch
// failures are delivery outcomes, not errors: they surface in the
// returned event's status.
func (s *webhookService) attempt(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookEvent, error) {
	attemptNo := event.RetryCount + 1
	now := time.Now().UTC()

	body, err := json.Marshal(deliveryEnvelope{
		ID:        event.ID,
		EventType: event.EventType,
		Source:    event.Source,
		Timestamp: now,
		Payload:   json.RawMessage(event.Payload),
	})
	if err != nil {
		body = []byte(event.Payload)
	}

	responseCode, responseBody, errorMessage := s.dispatch(ctx, event, body)
	success := responseCode != nil && *responseCode >= 200 && *responseCode < 300

	logEntry := &domain.WebhookDeliveryLog{
		ID:           uuid.New(),
		EventID:      event.ID,
		Attempt:      attemptNo,
		TargetURL:    s.opts.TargetURL,
		RequestBody:  string(body),
		ResponseCode: responseCode,
		ResponseBody: responseBody,
		ErrorMessage: errorMessage,
		CreatedAt:    now,
	}
	if err := s.logs.Create(ctx, logEntry); err != nil {
		s.log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("failed to record delivery attempt")
	}

	event.ResponseCode = responseCode
	event.ResponseBody = responseBody
	event.ErrorMessage = errorMessage
	event.UpdatedAt = now

	if success {
		event.Status = domain.WebhookStatusDelivered
		event.NextRetryAt = nil
	} else {
		event.RetryCount = attemptNo
		if event.RetryCount >= event.MaxRetries {
			event.Status = domain.WebhookStatusFailed
			event.NextRetryAt = nil
			s.secLog.Record(ctx, &domain.SecurityEvent{
				Action:  domain.SecurityWebhookExhausted,
				Details: `{"event_id":"` + event.ID.String() + `"}`,
			})
		} else {
			event.Status = domain.WebhookStatusRetrying
			nextRetry := now.Add(s.opts.Policy.NextDelay(event.RetryCount))
			event.NextRetryAt = &nextRetry
		}
	}

	updated, err := s.events.FinishProcessing(ctx, event)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !updated {
		// Someone else resolved the event while we were dispatching;
		// their result wins.
		s.log.Warn().Str("event_id", event.ID.String()).Msg("delivery outcome discarded after concurrent update")
		if current, err := s.events.GetByID(ctx, event.ID); err == nil && current != nil {
			return current, nil
		}
		return event, nil
	}

	s.log.Info().
		Str("event_id", event.ID.String()).
		Str("status", string(event.Status)).
		Int("attempt", attemptNo).
		Msg("webhook delivery attempt finished")
	return event, nil
}

// dispatch posts the signed envelope to the destination. All transport
// failures are captured in the returned error message.
func (s *webhookService) dispatch(ctx context.Context, event *domain.WebhookEvent, body []byte) (*int, *string, *string) {
	if s.opts.TargetURL == "" {
		msg := "no delivery destination configured"
		return nil, nil, &msg
	}

	reqCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.opts.TargetURL, bytes.NewReader(body))
	if err != nil {
		msg := err.Error()
		return nil, nil, &msg
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mindwell-Event", event.EventType)
	req.Header.Set("X-Mindwell-Delivery", event.ID.String())
	req.Header.Set("X-Mindwell-Signature", s.signSvc.Sign(s.opts.Secret, string(body)))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		msg := err.Error()
		return nil, nil, &msg
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		msg := err.Error()
		return &resp.StatusCode, nil, &msg
	}
	respBody := string(raw)
	return &resp.StatusCode, &respBody, nil
}
