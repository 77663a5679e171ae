package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mindwell-platform/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPProvider talks to the external billing vendor's REST API. Customer
// and portal-session identifiers are opaque vendor data; the platform
// never interprets them.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) ports.BillingProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type customerRequest struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
}

type customerResponse struct {
	CustomerID string `json:"customer_id"`
}

type portalRequest struct {
	CustomerID string `json:"customer_id"`
}

type portalResponse struct {
	URL string `json:"url"`
}

// EnsureCustomer creates or resolves the vendor-side customer for a user.
// The vendor API is idempotent on external_id.
func (p *HTTPProvider) EnsureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	var out customerResponse
	err := p.post(ctx, "/v1/customers", customerRequest{
		ExternalID: userID.String(),
		Email:      email,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.CustomerID == "" {
		return "", fmt.Errorf("billing vendor returned empty customer id")
	}
	return out.CustomerID, nil
}

func (p *HTTPProvider) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	var out portalResponse
	err := p.post(ctx, "/v1/portal_sessions", portalRequest{CustomerID: customerID}, &out)
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("billing vendor returned empty portal url")
	}
	return out.URL, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode billing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build billing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("billing request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read billing response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("billing vendor error")
		return fmt.Errorf("billing vendor returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode billing response: %w", err)
	}
	return nil
}
