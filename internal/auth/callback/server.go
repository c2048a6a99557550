// Package callback receives the OAuth redirect when the vscode:// handler
// scheme is unavailable. It runs a short-lived loopback HTTP server that
// captures the authorization code and state, and it can parse callback URLs
// pasted by the user as a last resort.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Result contains the parameters delivered by the OAuth redirect: either the
// authorization code and state, or the provider's error code.
type Result struct {
	Code  string
	State string
	Error string
}

// Server is the local HTTP server awaiting the OAuth callback.
type Server struct {
	server     *http.Server
	port       int
	resultChan chan *Result
	errorChan  chan error
	mu         sync.Mutex
	running    bool
}

// NewServer creates a callback server listening on the given loopback port.
func NewServer(port int) *Server {
	return &Server{
		port:       port,
		resultChan: make(chan *Result, 1),
		errorChan:  make(chan error, 1),
	}
}

// RedirectURI returns the redirect target this server answers on.
func (s *Server) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/auth/callback", s.port)
}

// Start begins listening for the callback. It fails fast when the port is
// already taken so the caller can surface a clear message instead of a
// dangling browser flow.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("callback server is already running")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("port %d is already in use: %w", s.port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.errorChan <- fmt.Errorf("callback server failed: %w", errServe)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	return err
}

// Wait blocks until the callback arrives, the server fails, the timeout
// elapses, or the context is canceled.
func (s *Server) Wait(ctx context.Context, timeout time.Duration) (*Result, error) {
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for OAuth callback")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	result := &Result{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	}

	switch {
	case result.Error != "":
		log.Errorf("OAuth error received: %s", result.Error)
		http.Error(w, fmt.Sprintf("OAuth error: %s", result.Error), http.StatusBadRequest)
	case result.Code == "" || result.State == "":
		log.Error("callback missing code or state")
		result.Error = "missing_parameters"
		http.Error(w, "Missing authentication parameters", http.StatusBadRequest)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(successHTML))
	}

	s.deliver(result)
}

// deliver hands the result to the waiting channel without blocking the
// handler; only the first result per flow is kept.
func (s *Server) deliver(result *Result) {
	select {
	case s.resultChan <- result:
	default:
		log.Warn("callback result channel is full, result dropped")
	}
}

const successHTML = `<!DOCTYPE html>
<html>
<head><title>Softcodes</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem;">
  <h2>Sign-in complete</h2>
  <p>You can close this window and return to the editor.</p>
</body>
</html>`
