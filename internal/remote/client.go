// Package remote holds one thin HTTP adapter per collaborator service. Wire
// shapes stay in this package; callers only see domain types.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/agentdeploy/internal/domain"
)

const maxErrorBody = 4096

// Option customises client instantiation.
type Option func(*transport)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(t *transport) {
		if h != nil {
			t.httpClient = h
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(t *transport) {
		t.token = strings.TrimSpace(token)
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

// APIError represents an error response from a collaborator.
type APIError struct {
	Service string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed with status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s request failed (%d): %s", e.Service, e.Status, e.Message)
}

// Is maps HTTP statuses onto domain sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.Status == http.StatusNotFound
	case domain.ErrAlreadyExists:
		return e.Status == http.StatusConflict
	case domain.ErrInvalidArgument:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	}
	return false
}

type transport struct {
	service    string
	baseURL    string
	token      string
	httpClient *http.Client
}

func newTransport(service, base string, opts ...Option) (*transport, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, fmt.Errorf("%s base url required", service)
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid %s base url: %w", service, err)
	}
	t := &transport{
		service:    service,
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *transport) do(ctx context.Context, method, path string, body any, v any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	if call := domain.CallFrom(ctx); call != nil && call.RequestID != "" {
		req.Header.Set("X-Request-ID", call.RequestID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", t.service, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Service: t.service, Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", t.service, err)
	}
	return nil
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	if payload.Error != "" {
		return strings.TrimSpace(payload.Error)
	}
	return strings.TrimSpace(payload.Message)
}

func escape(id string) string {
	return url.PathEscape(id)
}
