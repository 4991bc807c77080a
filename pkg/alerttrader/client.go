// Package alerttrader is a Go SDK for the alerttrader-server REST API.
package alerttrader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alerttrader/internal/domain"
	"alerttrader/internal/httpapi"
)

// Request and response types shared with the server.
type (
	IntentRequest    = httpapi.IntentRequest
	IntentResponse   = httpapi.IntentResponse
	ServiceRequest   = httpapi.ServiceRequest
	AttemptsResponse = httpapi.AttemptsResponse
	VersionResponse  = httpapi.VersionResponse
)

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Kind    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("alerttrader: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("alerttrader: %d: %s", e.Status, e.Message)
}

// Client provides a Go SDK for interacting with the alerttrader-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new alerttrader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Version retrieves the server version and registered brokers.
func (c *Client) Version(ctx context.Context) (VersionResponse, error) {
	var out VersionResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/version", nil, &out)
	return out, err
}

// Process submits an intent for one service or a market fan-out.
func (c *Client) Process(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	var out IntentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/intents", req, &out)
	return out, err
}

// CreateService registers a broker credential.
func (c *Client) CreateService(ctx context.Context, req ServiceRequest) (domain.ServiceCredential, error) {
	var out domain.ServiceCredential
	err := c.do(ctx, http.MethodPost, "/api/v1/services", req, &out)
	return out, err
}

// CreateSession logs a session-based service in.
func (c *Client) CreateSession(ctx context.Context, userID, serviceID string) (*domain.Session, error) {
	var out domain.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(userID)+"/"+url.PathEscape(serviceID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account retrieves the raw brokerage account record of a service.
func (c *Client) Account(ctx context.Context, userID, serviceID string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(userID)+"/"+url.PathEscape(serviceID), nil, &out)
	return out, err
}

// Attempts retrieves the user's most recent order attempts.
func (c *Client) Attempts(ctx context.Context, userID string, limit int) (AttemptsResponse, error) {
	var out AttemptsResponse
	path := "/api/v1/attempts/" + url.PathEscape(userID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ArchivedAttempts retrieves the user's attempts from the server's daily
// archive for day (UTC), newest first.
func (c *Client) ArchivedAttempts(ctx context.Context, userID string, day time.Time, limit int) (AttemptsResponse, error) {
	var out AttemptsResponse
	q := url.Values{"day": {day.UTC().Format("2006-01-02")}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/attempts/"+url.PathEscape(userID)+"?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e httpapi.ErrorResponse
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Kind, apiErr.Message, apiErr.Details = e.Kind, e.Error, e.Details
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
