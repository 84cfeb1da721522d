package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"trados-tasks-go/internal/config"
	"trados-tasks-go/internal/logging"
)

func TestRequireAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "next handler called")
	})

	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"no key configured", "", "", http.StatusOK},
		{"valid key", "s3cret", "s3cret", http.StatusOK},
		{"missing key", "s3cret", "", http.StatusUnauthorized},
		{"wrong key", "s3cret", "guess", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.APIKey = tt.configured
			app := &Application{cfg: cfg, Logger: logging.Discard()}

			req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
			if tt.header != "" {
				req.Header.Set(apiKeyHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			app.requireAPIKey(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, rr.Body.String(), "next handler called")
			} else {
				assert.Contains(t, rr.Body.String(), "Unauthorized")
			}
		})
	}
}
