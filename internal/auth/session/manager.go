package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/mathhhys/softcodes-vsc/internal/auth/pkce"
	"github.com/mathhhys/softcodes-vsc/internal/config"
	"github.com/mathhhys/softcodes-vsc/internal/secret"
)

// State is the authentication state of the session manager.
type State string

const (
	// StateLoggedOut means no usable access token is available.
	StateLoggedOut State = "logged-out"
	// StateAuthenticating means a browser flow was started and the callback
	// has not arrived yet.
	StateAuthenticating State = "authenticating"
	// StateLoggedIn means a usable access token is stored.
	StateLoggedIn State = "logged-in"
)

// Manager orchestrates the authentication lifecycle: initiate, callback and
// token exchange, token retrieval with lazy refresh, session validation, and
// sign-out. Construct one instance per host process and pass it to dependents
// explicitly; the manager holds no global state.
type Manager struct {
	cfg         *config.Config
	store       secret.Store
	httpClient  *http.Client
	openURL     func(string) error
	reportError func(string)

	mu        sync.Mutex
	state     State
	pending   map[string]*pendingEntry
	listeners []func(State)
}

// Option customizes manager construction.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for backend calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithBrowserOpener overrides how the authorization URL is opened. The host
// extension passes its external-browser command here.
func WithBrowserOpener(open func(string) error) Option {
	return func(m *Manager) { m.openURL = open }
}

// WithErrorReporter sets the hook that surfaces user-facing error messages.
// The default reporter only logs.
func WithErrorReporter(report func(string)) Option {
	return func(m *Manager) { m.reportError = report }
}

// NewManager constructs a session manager bound to the given config and
// durable store. The initial state is determined by the presence of a stored
// access token; no network check happens at startup.
func NewManager(ctx context.Context, cfg *config.Config, store secret.Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		openURL:    nil,
		state:      StateLoggedOut,
		pending:    make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.openURL == nil {
		m.openURL = func(string) error { return fmt.Errorf("no browser opener configured") }
	}

	if token, err := store.Get(ctx, keyAccessToken); err == nil && token != "" {
		m.state = StateLoggedIn
	}
	return m
}

// SetConfig swaps the active configuration, e.g. after a hot reload of the
// config file. In-flight requests keep the configuration they started with.
func (m *Manager) SetConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// SetBrowserOpener replaces how the authorization URL is presented, e.g. the
// no-browser print-and-copy path.
func (m *Manager) SetBrowserOpener(open func(string) error) {
	if open == nil {
		return
	}
	m.mu.Lock()
	m.openURL = open
	m.mu.Unlock()
}

// config returns the active configuration snapshot.
func (m *Manager) config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// State returns the current authentication state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers a listener invoked after every state transition.
func (m *Manager) OnStateChange(listener func(State)) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()
}

// Authenticate starts the PKCE browser flow. It generates the PKCE material
// and state, persists the pending entry before the redirect, asks the backend
// for the provider authorization URL, and opens it in the external browser.
// On success the manager stays in the authenticating state awaiting the
// callback; any failure aborts back to logged-out and is reported to the
// user, never retried automatically.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.sweepPending(ctx)

	codes, err := pkce.GenerateCodes()
	if err != nil {
		return m.fail(newAuthError(ErrTypeConfiguration, "failed to generate PKCE codes", err))
	}
	state, err := pkce.GenerateState()
	if err != nil {
		return m.fail(newAuthError(ErrTypeConfiguration, "failed to generate state", err))
	}

	entry := &pendingEntry{
		CodeVerifier: codes.CodeVerifier,
		State:        state,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err = m.savePending(ctx, entry); err != nil {
		return m.fail(newAuthError(ErrTypeConfiguration, "failed to persist pending authentication", err))
	}

	cfg := m.config()
	query := url.Values{
		"redirect_uri":   {cfg.RedirectURI},
		"code_challenge": {codes.CodeChallenge},
		"state":          {state},
	}
	initiateURL := fmt.Sprintf("%s%s?%s", cfg.BackendBaseURL, initiatePath, query.Encode())

	status, body, err := m.doRequest(ctx, http.MethodGet, initiateURL, nil, "")
	if err != nil {
		m.deletePending(ctx, state)
		return m.fail(newAuthError(ErrTypeTransport, "authentication initiation failed", err))
	}
	if status < 200 || status >= 300 {
		m.deletePending(ctx, state)
		return m.fail(newAuthError(ErrTypeProtocol, backendMessage(body, "authentication initiation failed"), nil))
	}

	authURL := gjson.GetBytes(body, "auth_url").String()
	if authURL == "" {
		m.deletePending(ctx, state)
		return m.fail(newAuthError(ErrTypeProtocol, "initiation response missing auth_url", nil))
	}
	if err = m.validateAuthURL(authURL); err != nil {
		m.deletePending(ctx, state)
		return m.fail(newAuthError(ErrTypeConfiguration, "rejected authorization URL", err))
	}

	m.setState(StateAuthenticating)
	if err = m.openURL(authURL); err != nil {
		m.deletePending(ctx, state)
		m.setState(StateLoggedOut)
		return m.fail(newAuthError(ErrTypeConfiguration, "failed to open browser", err))
	}

	log.WithField("state", state).Info("authentication flow started, awaiting callback")
	return nil
}

// HandleCallback completes the flow with the code and state returned by the
// provider redirect. The state must resolve to a pending entry in the durable
// store; an unknown state is rejected as the CSRF defense. The pending entry
// is deleted whether the exchange succeeds or fails.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) error {
	if code == "" || state == "" {
		m.setState(StateLoggedOut)
		return m.fail(newAuthError(ErrTypeProtocol, "missing authentication parameters", nil))
	}

	entry, err := m.loadPending(ctx, state)
	if err != nil || entry == nil {
		m.setState(StateLoggedOut)
		return m.fail(newAuthError(ErrTypeProtocol, "invalid authentication state", err))
	}
	defer m.deletePending(ctx, state)

	cfg := m.config()
	payload := map[string]string{
		"code":          code,
		"code_verifier": entry.CodeVerifier,
		"state":         state,
		"redirect_uri":  cfg.RedirectURI,
		"grant_type":    "authorization_code",
	}
	status, body, err := m.doRequest(ctx, http.MethodPost, cfg.BackendBaseURL+exchangePath, payload, "")
	if err != nil {
		m.setState(StateLoggedOut)
		return m.fail(newAuthError(ErrTypeTransport, "token exchange failed", err))
	}
	if status < 200 || status >= 300 {
		m.setState(StateLoggedOut)
		return m.fail(newAuthError(ErrTypeProtocol, backendMessage(body, "token exchange failed"), nil))
	}

	var creds Credentials
	if err = json.Unmarshal(body, &creds); err != nil || creds.AccessToken == "" {
		m.setState(StateLoggedOut)
		return m.fail(newAuthError(ErrTypeProtocol, "token exchange returned no usable tokens", err))
	}

	if err = m.StoreTokens(ctx, creds); err != nil {
		m.setState(StateLoggedOut)
		return m.fail(newAuthError(ErrTypeConfiguration, "failed to persist credentials", err))
	}

	m.setState(StateLoggedIn)
	log.Info("authentication completed")
	return nil
}

// SignOut notifies the backend on a best-effort basis, then unconditionally
// clears all credential keys and pending state. It is idempotent and always
// ends in the logged-out state, even when the backend notify fails.
func (m *Manager) SignOut(ctx context.Context) error {
	sessionID, _ := m.store.Get(ctx, keySessionID)

	payload := map[string]string{"session_id": sessionID}
	if status, _, err := m.doRequest(ctx, http.MethodPost, m.config().BackendBaseURL+signOutPath, payload, ""); err != nil {
		log.Warnf("sign-out notify failed: %v", err)
	} else if status < 200 || status >= 300 {
		log.Warnf("sign-out notify returned status %d", status)
	}

	var firstErr error
	for _, key := range credentialKeys {
		if err := m.store.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}

	m.mu.Lock()
	m.pending = make(map[string]*pendingEntry)
	m.mu.Unlock()

	m.setState(StateLoggedOut)
	if firstErr != nil {
		log.Warnf("sign-out cleanup incomplete: %v", firstErr)
	}
	return firstErr
}

// GetAccessToken returns a usable access token or the empty string. A stored
// token is returned as-is; expiry is discovered reactively through 401
// responses. When the access token is absent, exactly one refresh is
// attempted with the stored refresh token. A failed refresh purges all
// credentials, because an invalid refresh token can never self-heal; forcing
// a clean re-authentication beats looping.
func (m *Manager) GetAccessToken(ctx context.Context) string {
	token, err := m.store.Get(ctx, keyAccessToken)
	if err != nil {
		log.Warnf("failed to read access token: %v", err)
		return ""
	}
	if token != "" {
		return token
	}

	refreshToken, err := m.store.Get(ctx, keyRefreshToken)
	if err != nil || refreshToken == "" {
		return ""
	}

	creds, err := m.refreshTokens(ctx, refreshToken)
	if err != nil {
		log.Warnf("token refresh failed, signing out: %v", err)
		_ = m.SignOut(ctx)
		return ""
	}
	if err = m.StoreTokens(ctx, *creds); err != nil {
		log.Warnf("failed to persist refreshed credentials: %v", err)
		return ""
	}
	m.setState(StateLoggedIn)
	return creds.AccessToken
}

// refreshTokens exchanges the refresh token for a new credential set.
func (m *Manager) refreshTokens(ctx context.Context, refreshToken string) (*Credentials, error) {
	payload := map[string]string{
		"refresh_token": refreshToken,
		"client_type":   clientType,
	}
	status, body, err := m.doRequest(ctx, http.MethodPost, m.config().BackendBaseURL+refreshPath, payload, "")
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("token refresh failed with status %d: %s", status, string(body))
	}

	var creds Credentials
	if err = json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}
	return &creds, nil
}

// ValidateSession asks the backend whether the stored session is still alive.
// It requires both a usable access token and a stored session id, and the
// answer comes solely from the HTTP status. Any transport or parse problem
// counts as not valid; this accessor never returns an error to its caller.
func (m *Manager) ValidateSession(ctx context.Context) bool {
	token := m.GetAccessToken(ctx)
	if token == "" {
		return false
	}
	sessionID, err := m.store.Get(ctx, keySessionID)
	if err != nil || sessionID == "" {
		return false
	}

	payload := map[string]string{
		"session_id":  sessionID,
		"client_type": clientType,
	}
	status, _, err := m.doRequest(ctx, http.MethodPost, m.config().BackendBaseURL+validatePath, payload, token)
	if err != nil {
		log.Debugf("session validation failed: %v", err)
		return false
	}
	return status >= 200 && status < 300
}

// GetUserInfo fetches the authenticated user's profile. It returns nil when
// not authenticated or on any failure; user info is never persisted.
func (m *Manager) GetUserInfo(ctx context.Context) *UserInfo {
	token := m.GetAccessToken(ctx)
	if token == "" {
		return nil
	}

	status, body, err := m.doRequest(ctx, http.MethodGet, m.config().BackendBaseURL+userInfoPath, nil, token)
	if err != nil || status < 200 || status >= 300 {
		log.Debugf("user info fetch failed: status=%d err=%v", status, err)
		return nil
	}

	var info UserInfo
	if err = json.Unmarshal(body, &info); err != nil {
		log.Debugf("failed to parse user info: %v", err)
		return nil
	}
	return &info
}

// StoreTokens persists a credential set. Access and refresh tokens are
// written unconditionally; session and organization ids only when present,
// which preserves an existing organization id across a refresh response that
// omits it.
func (m *Manager) StoreTokens(ctx context.Context, creds Credentials) error {
	if err := m.store.Set(ctx, keyAccessToken, creds.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if err := m.store.Set(ctx, keyRefreshToken, creds.RefreshToken); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	if creds.SessionID != "" {
		if err := m.store.Set(ctx, keySessionID, creds.SessionID); err != nil {
			return fmt.Errorf("failed to store session id: %w", err)
		}
	}
	if creds.OrganizationID != "" {
		if err := m.store.Set(ctx, keyOrganizationID, creds.OrganizationID); err != nil {
			return fmt.Errorf("failed to store organization id: %w", err)
		}
	}
	return nil
}

// validateAuthURL rejects authorization URLs that target neither HTTPS nor a
// configured backend/identity host.
func (m *Manager) validateAuthURL(authURL string) error {
	parsed, err := url.Parse(authURL)
	if err != nil {
		return fmt.Errorf("invalid authorization URL: %w", err)
	}
	if parsed.Scheme == "https" {
		return nil
	}
	cfg := m.config()
	for _, base := range []string{cfg.IdentityBaseURL, cfg.BackendBaseURL} {
		if base == "" {
			continue
		}
		if baseURL, errParse := url.Parse(base); errParse == nil && baseURL.Host == parsed.Host {
			return nil
		}
	}
	return fmt.Errorf("authorization URL %q targets an unexpected host", authURL)
}

// setState transitions the state machine and notifies listeners outside the
// lock.
func (m *Manager) setState(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	listeners := make([]func(State), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener(next)
	}
}

// fail logs the error, surfaces the user-facing message through the reporter
// hook, and returns the error for callers that want it.
func (m *Manager) fail(err *AuthenticationError) error {
	log.Errorf("authentication error: %v", err)
	if m.reportError != nil {
		m.reportError(UserFriendlyMessage(err))
	}
	return err
}

// backendMessage extracts the backend-provided error message from a response
// body, falling back to the per-endpoint default.
func backendMessage(body []byte, fallback string) string {
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		return msg
	}
	return fallback
}

// doRequest performs one bounded JSON request against the backend. A nil
// payload sends no body; a non-empty bearer adds the Authorization header.
func (m *Manager) doRequest(ctx context.Context, method, rawURL string, payload any, bearer string) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.config().RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := m.httpClient.Do(req)
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
