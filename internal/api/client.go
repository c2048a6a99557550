// Package api provides the authenticated HTTP client used for every backend
// call made on behalf of a signed-in user. It injects the bearer token from
// the session manager and applies the retry-once-then-reauthenticate policy
// on 401 responses.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/mathhhys/softcodes-vsc/internal/config"
)

// TokenSource supplies access tokens for outbound requests. The session
// manager implements it; the indirection keeps the client decoupled from the
// auth flow itself.
type TokenSource interface {
	GetAccessToken(ctx context.Context) string
}

// ErrNotAuthenticated is returned when no access token is available before a
// request is attempted; no network call is made in that case.
var ErrNotAuthenticated = fmt.Errorf("not authenticated")

// ErrAuthenticationRequired is returned when a 401 could not be recovered by
// re-fetching the token; re-authentication has been triggered asynchronously.
var ErrAuthenticationRequired = fmt.Errorf("authentication required")

// RequestOptions customizes a single request. A nil options value issues a
// GET with no body.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// Body, when non-nil, is marshaled as the JSON request body.
	Body any
	// Headers are merged into the request. The Authorization header is always
	// applied after these, so callers cannot override it.
	Headers map[string]string
}

// Client issues authenticated JSON requests against the backend.
type Client struct {
	cfg        *config.Config
	tokens     TokenSource
	httpClient *http.Client
	reauth     func()
}

// NewClient constructs an API client. The reauth hook is invoked
// asynchronously when a request fails with an unrecoverable 401; hosts wire
// it to the command that restarts the authentication flow. A nil hook
// disables the trigger.
func NewClient(cfg *config.Config, tokens TokenSource, httpClient *http.Client, reauth func()) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout()}
	}
	return &Client{cfg: cfg, tokens: tokens, httpClient: httpClient, reauth: reauth}
}

// Request issues an authenticated request to the given endpoint path and
// returns the raw JSON response body. On 401 it re-requests a token and
// retries exactly once when the token actually changed; an unchanged or
// absent token triggers re-authentication and fails with
// ErrAuthenticationRequired. Other non-2xx statuses fail with the backend's
// message field when present.
func (c *Client) Request(ctx context.Context, endpoint string, opts *RequestOptions) (json.RawMessage, error) {
	token := c.tokens.GetAccessToken(ctx)
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	return c.request(ctx, endpoint, opts, token, true)
}

func (c *Client) request(ctx context.Context, endpoint string, opts *RequestOptions, token string, allowRetry bool) (json.RawMessage, error) {
	requestID := uuid.NewString()[:8]
	logger := log.WithField("request_id", requestID).WithField("endpoint", endpoint)

	status, body, err := c.do(ctx, endpoint, opts, token)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	if c.cfg.RequestLog {
		logger.WithField("status", status).Debug("API request completed")
	}

	if status == http.StatusUnauthorized {
		if !allowRetry {
			return nil, fmt.Errorf("API request failed with status %d", status)
		}
		// Re-request a token; a concurrent or lazy refresh may have produced
		// a new one. Only a changed token justifies one retry.
		newToken := c.tokens.GetAccessToken(ctx)
		if newToken != "" && newToken != token {
			logger.Debug("retrying request with refreshed token")
			return c.request(ctx, endpoint, opts, newToken, false)
		}
		if c.reauth != nil {
			go c.reauth()
		}
		return nil, ErrAuthenticationRequired
	}

	if status < 200 || status >= 300 {
		if msg := gjson.GetBytes(body, "message").String(); msg != "" {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("API request failed with status %d", status)
	}

	return json.RawMessage(body), nil
}

// do performs one HTTP round trip with merged headers. The Authorization
// header is applied last so it always wins over caller-supplied headers.
func (c *Client) do(ctx context.Context, endpoint string, opts *RequestOptions, token string) (int, []byte, error) {
	method := http.MethodGet
	var bodyReader io.Reader
	headers := map[string]string{}

	if opts != nil {
		if opts.Method != "" {
			method = opts.Method
		}
		if opts.Body != nil {
			raw, err := json.Marshal(opts.Body)
			if err != nil {
				return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(raw)
		}
		headers = opts.Headers
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BackendBaseURL+endpoint, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
