package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookStatus represents the delivery state of a webhook event.
// Transitions: pending -> processing -> {delivered | retrying | failed};
// retrying -> processing on the next attempt. delivered and failed are
// terminal.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "PENDING"
	WebhookStatusProcessing WebhookStatus = "PROCESSING"
	WebhookStatusDelivered  WebhookStatus = "DELIVERED"
	WebhookStatusRetrying   WebhookStatus = "RETRYING"
	WebhookStatusFailed     WebhookStatus = "FAILED"
)

// WebhookEvent is an ingested external event tracked through delivery.
// Invariants: RetryCount <= MaxRetries; NextRetryAt is set only while the
// status is RETRYING.
type WebhookEvent struct {
	ID           uuid.UUID     `json:"id"`
	EventType    string        `json:"event_type"`
	Source       string        `json:"source"`
	Status       WebhookStatus `json:"status"`
	Payload      string        `json:"payload"` // raw JSON as received
	ResponseCode *int          `json:"response_code,omitempty"`
	ResponseBody *string       `json:"response_body,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	RetryCount   int           `json:"retry_count"`
	MaxRetries   int           `json:"max_retries"`
	NextRetryAt  *time.Time    `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Terminal reports whether the event has reached a final state.
func (e *WebhookEvent) Terminal() bool {
	return e.Status == WebhookStatusDelivered || e.Status == WebhookStatusFailed
}

// WebhookDeliveryLog records one delivery attempt. Immutable audit trail.
type WebhookDeliveryLog struct {
	ID           uuid.UUID `json:"id"`
	EventID      uuid.UUID `json:"event_id"`
	Attempt      int       `json:"attempt"`
	TargetURL    string    `json:"target_url"`
	RequestBody  string    `json:"request_body"`
	ResponseCode *int      `json:"response_code,omitempty"`
	ResponseBody *string   `json:"response_body,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RetryStrategy names the backoff curve for failed deliveries.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// RetryPolicy is the destination's configured retry behaviour.
type RetryPolicy struct {
	Strategy   RetryStrategy
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// NextDelay computes the wait before the given attempt, where retryCount is
// the number of failures so far (>= 1). The exponential curve is capped at
// MaxDelay; unknown strategies fall back to the fixed delay.
func (p RetryPolicy) NextDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}

	var d time.Duration
	switch p.Strategy {
	case RetryLinear:
		d = p.BaseDelay * time.Duration(retryCount)
	case RetryExponential:
		// Clamp the exponent so large retry counts cannot overflow the
		// duration before the MaxDelay cap applies.
		shift := uint(retryCount)
		if shift > 20 {
			shift = 20
		}
		d = p.BaseDelay * time.Duration(int64(1)<<shift)
	default:
		d = p.BaseDelay
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
