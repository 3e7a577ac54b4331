package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/broqueue/broqueue/pkg/app"
	"github.com/broqueue/broqueue/pkg/broker"
	"github.com/broqueue/broqueue/pkg/router"
)

func setupTestRouter(t *testing.T, apiKey string) *http.ServeMux {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	b, err := broker.NewRedisBroker(s.Addr())
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}
	a := app.New(b, router.New(nil, "default"))
	return setupRouter(a, b, []string{"default"}, apiKey)
}

func TestAuthMiddleware(t *testing.T) {
	mux := setupTestRouter(t, "secret-key")

	tests := []struct {
		name           string
		headerValue    string
		expectedStatus int
	}{
		{name: "no API key", headerValue: "", expectedStatus: http.StatusUnauthorized},
		{name: "wrong API key", headerValue: "wrong-key", expectedStatus: http.StatusUnauthorized},
		{name: "correct API key", headerValue: "secret-key", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/enqueue", nil)
			if tt.headerValue != "" {
				req.Header.Set("X-API-Key", tt.headerValue)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	mux := setupTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/enqueue", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code == http.StatusUnauthorized {
		t.Error("expected auth to be disabled")
	}
}

func TestEnqueueUnknownTaskIsNotFound(t *testing.T) {
	mux := setupTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(`{"task":"no.such.task"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unregistered task, got %d", w.Code)
	}
}
