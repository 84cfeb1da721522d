package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trados-tasks-go/internal/auth"
	"trados-tasks-go/internal/config"
	"trados-tasks-go/internal/logging"
	"trados-tasks-go/internal/scheduler"
)

func handlerConfig() *config.Config {
	cfg := config.Default()
	cfg.Credentials = []config.Credential{
		{Name: "main", ClientID: "client-1", ClientSecret: "secret-1", Region: "eu"},
	}
	cfg.Tenants = []config.Tenant{
		{TenantID: "tenant-1", Name: "Agency", Credentials: "main", PollIntervalMinutes: 15},
	}
	return cfg
}

func newHandlerApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	app, err := New(cfg, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go app.Hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		app.Scheduler.Stop()
		require.NoError(t, app.Close())
	})
	return app
}

func do(t *testing.T, app *Application, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	app.HttpServer.Handler.ServeHTTP(rr, req)
	return rr
}

func publishAndWait(t *testing.T, app *Application, snaps ...scheduler.Snapshot) {
	t.Helper()
	for _, s := range snaps {
		app.Hub.Publish(context.Background(), s)
	}
	require.Eventually(t, func() bool {
		return len(app.Hub.All()) == len(snaps)
	}, time.Second, 5*time.Millisecond)
}

func TestHandlers_Health(t *testing.T) {
	app := newHandlerApp(t, handlerConfig())
	publishAndWait(t, app,
		scheduler.Snapshot{TenantID: "a", Available: true},
		scheduler.Snapshot{TenantID: "b", Available: false, ConsecutiveFailures: 3},
	)

	rr := do(t, app, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["tenants"])
	assert.Equal(t, float64(1), body["available"])
}

func TestHandlers_Tenants(t *testing.T) {
	app := newHandlerApp(t, handlerConfig())
	publishAndWait(t, app,
		scheduler.Snapshot{TenantID: "b", Name: "Beta", Available: true},
		scheduler.Snapshot{TenantID: "a", Name: "Alpha", LastError: "boom"},
	)

	rr := do(t, app, http.MethodGet, "/api/tenants")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var list []scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "boom", list[0].LastError)

	rr = do(t, app, http.MethodGet, "/api/tenants/b")
	require.Equal(t, http.StatusOK, rr.Code)
	var one scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &one))
	assert.Equal(t, "Beta", one.Name)
	assert.True(t, one.Available)

	rr = do(t, app, http.MethodGet, "/api/tenants/zzz")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown tenant zzz")
}

func TestHandlers_RefreshUnknownTenant(t *testing.T) {
	app := newHandlerApp(t, handlerConfig())

	rr := do(t, app, http.MethodPost, "/api/tenants/tenant-1/refresh")
	assert.Equal(t, http.StatusNotFound, rr.Code, "tenants are only scheduled by Run")

	rr = do(t, app, http.MethodGet, "/api/tenants/tenant-1/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandlers_AuthorizationsAndCredentials(t *testing.T) {
	app := newHandlerApp(t, handlerConfig())

	rr := do(t, app, http.MethodGet, "/api/authorizations")
	require.Equal(t, http.StatusOK, rr.Code)
	var pending []auth.PendingAuthorization
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pending))
	assert.Empty(t, pending)

	rr = do(t, app, http.MethodGet, "/api/credentials")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret-1")

	var creds []credentialStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &creds))
	require.Len(t, creds, 1)
	assert.Equal(t, "main", creds[0].Name)
	assert.Equal(t, 0, creds[0].Quota.Used)
	assert.Equal(t, 16, creds[0].Quota.Remaining)
}

func TestHandlers_APIKeyProtectsAPIOnly(t *testing.T) {
	cfg := handlerConfig()
	cfg.Server.APIKey = "s3cret"
	app := newHandlerApp(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, app, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, app, http.MethodGet, "/api/tenants").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Header.Set(apiKeyHeader, "s3cret")
	rr := httptest.NewRecorder()
	app.HttpServer.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
