package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trados-tasks-go/internal/models"
	"trados-tasks-go/internal/scheduler"
)

type statusOptions struct {
	addr   string
	apiKey string
	format string
}

func newStatusCmd() *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest summary of every tenant from a running server",
		Example: `  trados-tasks status
  trados-tasks status --addr http://monitor:8080 --api-key $KEY --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "http://localhost:8080", "Status API address")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", os.Getenv("TRADOS_TASKS_API_KEY"), "Status API key")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format (text or json)")

	return cmd
}

func showStatus(ctx context.Context, opts *statusOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(opts.addr, "/")+"/api/tenants", nil)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if opts.apiKey != "" {
		req.Header.Set("X-API-Key", opts.apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var snaps []scheduler.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if opts.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snaps)
	}
	renderStatus(w, snaps, time.Now())
	return nil
}

// renderStatus prints one block per tenant.
func renderStatus(w io.Writer, snaps []scheduler.Snapshot, now time.Time) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No tenants scheduled.")
		return
	}
	for _, s := range snaps {
		state := "ok"
		if !s.Available {
			state = "UNAVAILABLE"
		}
		fmt.Fprintf(w, "%s (%s) [%s]\n", s.Name, s.TenantID, state)
		if s.LastError != "" {
			fmt.Fprintf(w, "  last error: %s (%d in a row)\n", s.LastError, s.ConsecutiveFailures)
		}

		agg := s.Aggregate
		if agg == nil {
			fmt.Fprintln(w, "  no data yet")
			continue
		}
		var counts []string
		for _, st := range models.Statuses {
			if n := agg.CountsByStatus[st]; n > 0 {
				counts = append(counts, fmt.Sprintf("%s %d", st, n))
			}
		}
		fmt.Fprintf(w, "  tasks: %d (%s)\n", agg.TotalTasks, strings.Join(counts, ", "))
		fmt.Fprintf(w, "  words: %d\n", agg.TotalWords)
		fmt.Fprintf(w, "  overdue: %d\n", len(agg.OverdueTasks))
		for _, o := range agg.OverdueTasks {
			fmt.Fprintf(w, "    %-30s %5.1fh late\n", o.Task.Name, o.HoursOverdue)
		}
		if agg.NextDueAt != nil {
			fmt.Fprintf(w, "  next due: %s (in %s)\n",
				agg.NextDueAt.Local().Format("Mon 02 Jan 15:04"),
				agg.NextDueAt.Sub(now).Round(time.Minute))
		}
		fmt.Fprintf(w, "  updated: %s\n", agg.ComputedAt.Local().Format("15:04:05"))
		if s.PortalURL != "" {
			fmt.Fprintf(w, "  %s\n", s.PortalURL)
		}
	}
}
