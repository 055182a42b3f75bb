package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chesspath/chessauth/pkg/refresh"
	"golang.org/x/time/rate"
)

// API endpoints the engine depends on.
const (
	EndpointLogin   = "/user/login"
	EndpointRefresh = "/user/refresh"
	EndpointLogout  = "/user/logout"
)

// Credentials are the login request payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the login endpoint's success payload.
type LoginResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    int            `json:"expires_in"`
	TokenType    string         `json:"token_type"`
	SessionID    string         `json:"session_id"`
	User         map[string]any `json:"user"`
}

// Transport is the HTTP collaborator boundary. Implementations own their
// request timeouts.
type Transport interface {
	Login(ctx context.Context, creds Credentials) (*LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*refresh.TokenGrant, error)
	Logout(ctx context.Context, accessToken string) error
	Replay(ctx context.Context, req *refresh.Request) (*refresh.Response, error)
}

// HTTPTransport implements Transport over net/http. An optional client-side
// rate limiter guards the API against request storms from a misbehaving
// caller.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHTTPClient substitutes the underlying client.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) { t.client = client }
}

// WithRateLimit caps outgoing requests at r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) TransportOption {
	return func(t *HTTPTransport) { t.limiter = rate.NewLimiter(r, burst) }
}

// NewHTTPTransport creates a transport for the API at baseURL.
func NewHTTPTransport(baseURL string, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	var out LoginResponse
	if err := t.postJSON(ctx, EndpointLogin, creds, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *HTTPTransport) Refresh(ctx context.Context, refreshToken string) (*refresh.TokenGrant, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		SessionID    string `json:"session_id"`
	}
	if err := t.postJSON(ctx, EndpointRefresh, body, "", &out); err != nil {
		return nil, err
	}
	return &refresh.TokenGrant{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    out.ExpiresIn,
		SessionID:    out.SessionID,
	}, nil
}

func (t *HTTPTransport) Logout(ctx context.Context, accessToken string) error {
	return t.postJSON(ctx, EndpointLogout, struct{}{}, accessToken, nil)
}

// Replay re-issues a previously-failed request exactly as given. The URL may
// be relative to the transport's base URL or absolute.
func (t *HTTPTransport) Replay(ctx context.Context, req *refresh.Request) (*refresh.Response, error) {
	if err := t.wait(ctx, req.URL); err != nil {
		return nil, err
	}

	target := req.URL
	if strings.HasPrefix(target, "/") {
		target = t.baseURL + target
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, networkError(req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, processError(req.URL, resp.StatusCode, body)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &refresh.Response{
		Status:  resp.StatusCode,
		Body:    body,
		Headers: headers,
	}, nil
}

// postJSON posts payload to endpoint and decodes the 2xx response into out
// (which may be nil). Errors come back processed.
func (t *HTTPTransport) postJSON(ctx context.Context, endpoint string, payload any, bearer string, out any) error {
	if err := t.wait(ctx, endpoint); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return networkError(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return processError(endpoint, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (t *HTTPTransport) wait(ctx context.Context, endpoint string) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return networkError(endpoint, err)
	}
	return nil
}

// processError converts a non-2xx response into an *APIError, pulling a
// message out of the body when the server sent one.
func processError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Status:   status,
		Code:     codeForStatus(status),
		Endpoint: endpoint,
		Message:  http.StatusText(status),
	}

	var payload struct {
		Message string         `json:"message"`
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Error != "":
			apiErr.Message = payload.Error
		}
		apiErr.Details = payload.Details
	}

	return apiErr
}
