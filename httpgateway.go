package fieldsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGateway talks to the central REST service. Mutations map to
// POST /api/v1/{resource}, PATCH /api/v1/{resource}/{id}, and
// DELETE /api/v1/{resource}/{id}. The service upserts on POST, so
// redelivered creates converge instead of duplicating.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway creates a gateway for the service at baseURL.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Insert sends a create mutation.
func (g *HTTPGateway) Insert(ctx context.Context, resource string, payload json.RawMessage) error {
	return g.do(ctx, http.MethodPost, g.baseURL+"/api/v1/"+resource, payload)
}

// Update sends an update mutation for one record.
func (g *HTTPGateway) Update(ctx context.Context, resource, id string, payload json.RawMessage) error {
	return g.do(ctx, http.MethodPatch, g.baseURL+"/api/v1/"+resource+"/"+id, payload)
}

// Delete sends a delete mutation for one record. The service treats
// deleting an absent record as success, keeping redelivery idempotent.
func (g *HTTPGateway) Delete(ctx context.Context, resource, id string) error {
	return g.do(ctx, http.MethodDelete, g.baseURL+"/api/v1/"+resource+"/"+id, nil)
}

func (g *HTTPGateway) do(ctx context.Context, method, url string, payload json.RawMessage) error {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	g.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reqErr := fmt.Errorf("%s %s: %s - %s", method, url, resp.Status, string(respBody))

	if retryableStatus(resp.StatusCode) {
		return reqErr
	}
	return Permanent(reqErr)
}

// retryableStatus reports whether the status is worth another attempt.
// Server-side failures and throttling are transient; other 4xx mean the
// request itself is rejected and will never succeed as sent.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func (g *HTTPGateway) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("User-Agent", "fieldsync-client/1.0")
}
