package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandleCallbackDeliversResult(t *testing.T) {
	t.Parallel()

	srv := NewServer(54546)
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=xyz", nil)
	rec := httptest.NewRecorder()
	srv.handleCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Sign-in complete") {
		t.Error("success page not rendered")
	}

	result, err := srv.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.Code != "abc" || result.State != "xyz" || result.Error != "" {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleCallbackProviderError(t *testing.T) {
	t.Parallel()

	srv := NewServer(54546)
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	srv.handleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	result, err := srv.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.Error != "access_denied" {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleCallbackMissingParameters(t *testing.T) {
	t.Parallel()

	srv := NewServer(54546)
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil)
	rec := httptest.NewRecorder()
	srv.handleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	result, err := srv.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.Error != "missing_parameters" {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleCallbackRejectsPost(t *testing.T) {
	t.Parallel()

	srv := NewServer(54546)
	req := httptest.NewRequest(http.MethodPost, "/auth/callback", nil)
	rec := httptest.NewRecorder()
	srv.handleCallback(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestWaitTimeout(t *testing.T) {
	t.Parallel()

	srv := NewServer(54546)
	if _, err := srv.Wait(context.Background(), 20*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestWaitContextCanceled(t *testing.T) {
	t.Parallel()

	srv := NewServer(54546)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := srv.Wait(ctx, time.Second); err == nil {
		t.Fatal("expected context error")
	}
}

func TestRedirectURI(t *testing.T) {
	t.Parallel()

	srv := NewServer(12345)
	if got := srv.RedirectURI(); got != "http://localhost:12345/auth/callback" {
		t.Errorf("RedirectURI = %q", got)
	}
}
