package handlers_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/applyloop/agent/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupRouter mounts a single handler on a fresh gin.Engine, shared by every
// handler test in this package.
func setupRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Handle(method, path, h)
	return r
}

func TestHealthHandler_Healthz_AlwaysOK(t *testing.T) {
	h := handlers.NewHealthHandler(func() error { return errors.New("db down") })
	r := setupRouter(http.MethodGet, "/healthz", h.Healthz)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealthHandler_Readyz(t *testing.T) {
	tests := []struct {
		name           string
		readyCheck     func() error
		wantStatusCode int
	}{
		{
			name:           "nil_check_always_ready",
			readyCheck:     nil,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "check_passes",
			readyCheck:     func() error { return nil },
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "check_fails",
			readyCheck:     func() error { return errors.New("postgres ping failed") },
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewHealthHandler(tt.readyCheck)
			r := setupRouter(http.MethodGet, "/readyz", h.Readyz)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}
