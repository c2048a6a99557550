package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mathhhys/softcodes-vsc/internal/config"
)

// fakeTokens returns queued tokens in order, repeating the last one once the
// queue is exhausted.
type fakeTokens struct {
	mu     sync.Mutex
	queue  []string
	issued int
}

func (f *fakeTokens) GetAccessToken(_ context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	if len(f.queue) == 0 {
		return ""
	}
	token := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return token
}

func testConfig(backendURL string) *config.Config {
	return &config.Config{BackendBaseURL: backendURL}
}

func TestRequestNotAuthenticated(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected without a token")
	}))
	defer backend.Close()

	client := NewClient(testConfig(backend.URL), &fakeTokens{}, nil, nil)
	_, err := client.Request(context.Background(), "/api/things", nil)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestRequestSuccess(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/things" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	}))
	defer backend.Close()

	client := NewClient(testConfig(backend.URL), &fakeTokens{queue: []string{"tok"}}, nil, nil)
	body, err := client.Request(context.Background(), "/api/things", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var parsed struct {
		Items []int `json:"items"`
	}
	if errJSON := json.Unmarshal(body, &parsed); errJSON != nil || len(parsed.Items) != 3 {
		t.Errorf("body = %s", string(body))
	}
}

func TestRequestPostBody(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["name"] != "widget" {
			t.Errorf("payload = %v", payload)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	client := NewClient(testConfig(backend.URL), &fakeTokens{queue: []string{"tok"}}, nil, nil)
	_, err := client.Request(context.Background(), "/api/things", &RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"name": "widget"},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
}

func TestRequestHeadersCannotOverrideAuthorization(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q, caller header must not win", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Custom") != "yes" {
			t.Errorf("custom header missing")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	client := NewClient(testConfig(backend.URL), &fakeTokens{queue: []string{"tok"}}, nil, nil)
	_, err := client.Request(context.Background(), "/api/things", &RequestOptions{
		Headers: map[string]string{
			"Authorization": "Bearer forged",
			"X-Custom":      "yes",
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
}

func TestRequestRetriesOnceWithChangedToken(t *testing.T) {
	t.Parallel()

	var requests int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			if r.Header.Get("Authorization") != "Bearer stale" {
				t.Errorf("first Authorization = %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			t.Errorf("retry Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	client := NewClient(testConfig(backend.URL), &fakeTokens{queue: []string{"stale", "fresh"}}, nil, nil)
	body, err := client.Request(context.Background(), "/api/things", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", string(body))
	}
}

func TestRequestUnchangedTokenTriggersReauth(t *testing.T) {
	t.Parallel()

	var requests int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer backend.Close()

	reauthCalled := make(chan struct{}, 1)
	client := NewClient(testConfig(backend.URL), &fakeTokens{queue: []string{"same"}}, nil, func() {
		reauthCalled <- struct{}{}
	})

	_, err := client.Request(context.Background(), "/api/things", nil)
	if !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("err = %v, want ErrAuthenticationRequired", err)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (no retry with an unchanged token)", requests)
	}
	select {
	case <-reauthCalled:
	case <-time.After(2 * time.Second):
		t.Error("reauth hook was not invoked")
	}
}

func TestRequestSecondUnauthorizedPropagates(t *testing.T) {
	t.Parallel()

	var requests int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer backend.Close()

	client := NewClient(testConfig(backend.URL), &fakeTokens{queue: []string{"first", "second"}}, nil, nil)
	_, err := client.Request(context.Background(), "/api/things", nil)
	if err == nil || errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("err = %v, want plain status error after the single retry", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want exactly 2", requests)
	}
}

func TestRequestBackendErrorMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"message field", http.StatusBadRequest, `{"message":"quota exceeded"}`, "quota exceeded"},
		{"no message", http.StatusBadGateway, `<html>bad gateway</html>`, "API request failed with status 502"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer backend.Close()

			client := NewClient(testConfig(backend.URL), &fakeTokens{queue: []string{"tok"}}, nil, nil)
			_, err := client.Request(context.Background(), "/api/things", nil)
			if err == nil || err.Error() != tc.wantErr {
				t.Errorf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}
