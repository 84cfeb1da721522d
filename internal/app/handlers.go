package app

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"trados-tasks-go/internal/auth"
)

// routes builds the status API. It only reads local state; the single write
// endpoint asks a coordinator for an early cycle.
func (a *Application) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(a.requireAPIKey)
		r.Get("/tenants", a.handleListTenants)
		r.Get("/tenants/{tenantID}", a.handleGetTenant)
		r.Post("/tenants/{tenantID}/refresh", a.handleRefreshTenant)
		r.Get("/authorizations", a.handleAuthorizations)
		r.Get("/credentials", a.handleCredentials)
	})
	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *Application) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Warn("failed to encode response", "error", err)
	}
}

func (a *Application) writeError(w http.ResponseWriter, status int, errorType, message string) {
	a.writeJSON(w, status, errorResponse{Error: errorType, Message: message})
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	snaps := a.Hub.All()
	available := 0
	for _, s := range snaps {
		if s.Available {
			available++
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"tenants":   len(snaps),
		"available": available,
	})
}

func (a *Application) handleListTenants(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Hub.All())
}

func (a *Application) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	snap, ok := a.Hub.Latest(id)
	if !ok {
		a.writeError(w, http.StatusNotFound, "NotFound", "unknown tenant "+id)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

// handleRefreshTenant starts a cycle right away. The token quota still
// applies, so a refresh never forces a new authorization.
func (a *Application) handleRefreshTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !a.Scheduler.Trigger(id) {
		a.writeError(w, http.StatusNotFound, "NotFound", "unknown tenant "+id)
		return
	}
	a.Logger.Info("manual refresh requested", "tenant", id)
	a.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (a *Application) handleAuthorizations(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Tokens.PendingAll())
}

type credentialStatus struct {
	Name     string           `json:"name"`
	ClientID string           `json:"client_id"`
	Region   string           `json:"region"`
	Quota    auth.QuotaStatus `json:"quota"`
}

func (a *Application) handleCredentials(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config()
	out := make([]credentialStatus, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		st, err := a.Tokens.QuotaStatus(r.Context(), credentials(cred))
		if err != nil {
			a.Logger.Error("failed to read token quota", "credential", cred.Name, "error", err)
			a.writeError(w, http.StatusInternalServerError, "InternalError", "failed to read token quota")
			return
		}
		out = append(out, credentialStatus{
			Name:     cred.Name,
			ClientID: cred.ClientID,
			Region:   cred.Region,
			Quota:    st,
		})
	}
	a.writeJSON(w, http.StatusOK, out)
}
