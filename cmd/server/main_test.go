package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trados-tasks-go/internal/models"
	"trados-tasks-go/internal/scheduler"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{{"serve"}, {"authorize"}, {"config", "validate"}, {"status"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, defaultConfigPath, flag.DefValue)
}

func TestConfigValidateCmd(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
credentials:
  - name: main
    client_id: cid
    client_secret: secret
tenants:
  - tenant_id: t-1
    credentials: main
`), 0644))
	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte(`
credentials:
  - name: main
    client_id: cid
    client_secret: secret
tenants:
  - tenant_id: t-1
    credentials: main
    poll_interval_minutes: 1
`), 0644))

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"valid", []string{"config", "validate", "--config", valid}, false},
		{"valid with show", []string{"config", "validate", "-c", valid, "--show"}, false},
		{"interval too short", []string{"config", "validate", "--config", invalid}, true},
		{"missing file", []string{"config", "validate", "--config", filepath.Join(dir, "nope.yaml")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetArgs(tt.args)
			root.SetErr(io.Discard)
			err := root.Execute()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusCmd(t *testing.T) {
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	due := now.Add(3 * time.Hour)
	snaps := []scheduler.Snapshot{
		{
			TenantID:  "t-1",
			Name:      "Agency",
			Available: true,
			PortalURL: "https://eu.cloud.trados.com/lc/t/t-1/dashboard",
			Aggregate: &models.Aggregate{
				TotalTasks:     3,
				CountsByStatus: map[models.Status]int{models.StatusCreated: 1, models.StatusInProgress: 2},
				TotalWords:     1500,
				OverdueTasks: []models.OverdueTask{
					{Task: models.Task{ID: "a", Name: "Late task"}, HoursOverdue: 2.5},
				},
				NextDueAt:  &due,
				ComputedAt: now,
			},
		},
		{TenantID: "t-2", Name: "Broken", LastError: "server error", ConsecutiveFailures: 3},
	}

	keys := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("X-API-Key")
		assert.Equal(t, "/api/tenants", r.URL.Path)
		_ = json.NewEncoder(w).Encode(snaps)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := showStatus(context.Background(), &statusOptions{addr: srv.URL + "/", apiKey: "k", format: "text"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "k", <-keys)

	text := out.String()
	assert.Contains(t, text, "Agency (t-1) [ok]")
	assert.Contains(t, text, "tasks: 3 (created 1, inProgress 2)")
	assert.Contains(t, text, "words: 1500")
	assert.Contains(t, text, "Late task")
	assert.Contains(t, text, "Broken (t-2) [UNAVAILABLE]")
	assert.Contains(t, text, "last error: server error (3 in a row)")
	assert.Contains(t, text, "no data yet")

	out.Reset()
	err = showStatus(context.Background(), &statusOptions{addr: srv.URL, format: "json"}, &out)
	require.NoError(t, err)
	var decoded []scheduler.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, 2, decoded[0].Aggregate.CountsByStatus[models.StatusInProgress])
}

func TestStatusCmd_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := showStatus(context.Background(), &statusOptions{addr: srv.URL}, io.Discard)
	assert.ErrorContains(t, err, "401")
}
