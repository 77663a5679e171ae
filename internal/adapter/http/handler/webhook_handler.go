package handler

import (
	"context"
	"encoding/json"
	"time"

	"mindwell-platform/internal/adapter/http/dto"
	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"
	"mindwell-platform/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookHandler handles webhook ingestion and inspection endpoints.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc ports.WebhookService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc, log: log}
}

func toWebhookEventResponse(e *domain.WebhookEvent) dto.WebhookEventResponse {
	resp := dto.WebhookEventResponse{
		ID:           e.ID.String(),
		EventType:    e.EventType,
		Source:       e.Source,
		Status:       string(e.Status),
		ResponseCode: e.ResponseCode,
		ErrorMessage: e.ErrorMessage,
		RetryCount:   e.RetryCount,
		MaxRetries:   e.MaxRetries,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.Format(time.RFC3339),
	}
	if e.NextRetryAt != nil {
		s := e.NextRetryAt.Format(time.RFC3339)
		resp.NextRetryAt = &s
	}
	return resp
}

// Ingest handles POST /api/v1/webhooks/ingest. The event is acknowledged
// as soon as it is persisted; delivery happens out of band.
func (h *WebhookHandler) Ingest(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}
	if len(payload) == 0 || !json.Valid(payload) {
		response.Error(c, apperror.Validation("body must be a JSON document"))
		return
	}

	source := c.GetHeader("X-Webhook-Source")
	if source == "" {
		source = "external"
	}

	event, err := h.webhookSvc.Ingest(c.Request.Context(), source, payload)
	if err != nil {
		response.Error(c, err)
		return
	}

	// First delivery attempt fires immediately; the periodic sweep picks
	// the event up again if this attempt loses a race or fails.
	if event.Status == domain.WebhookStatusPending {
		go func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := h.webhookSvc.Deliver(ctx, id); err != nil {
				h.log.Debug().Err(err).Str("event_id", id.String()).Msg("initial delivery attempt not completed")
			}
		}(event.ID)
	}

	response.OK(c, dto.IngestResponse{
		EventID:   event.ID.String(),
		EventType: event.EventType,
		Status:    string(event.Status),
	})
}

// Get handles GET /api/v1/webhooks/:id.
func (h *WebhookHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid event id"))
		return
	}

	event, err := h.webhookSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWebhookEventResponse(event))
}

// Logs handles GET /api/v1/webhooks/:id/logs.
func (h *WebhookHandler) Logs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid event id"))
		return
	}

	logs, err := h.webhookSvc.Logs(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.WebhookLogResponse, 0, len(logs))
	for i := range logs {
		l := &logs[i]
		out = append(out, dto.WebhookLogResponse{
			ID:           l.ID.String(),
			Attempt:      l.Attempt,
			TargetURL:    l.TargetURL,
			ResponseCode: l.ResponseCode,
			ResponseBody: l.ResponseBody,
			ErrorMessage: l.ErrorMessage,
			CreatedAt:    l.CreatedAt.Format(time.RFC3339),
		})
	}
	response.OK(c, out)
}

// Retry handles POST /api/v1/webhooks/:id/retry. Runs the delivery
// immediately, ignoring the scheduled next_retry_at.
func (h *WebhookHandler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid event id"))
		return
	}

	event, err := h.webhookSvc.Retry(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWebhookEventResponse(event))
}
