package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"trados-tasks-go/internal/app"
	"trados-tasks-go/internal/config"
	"trados-tasks-go/internal/logging"
)

func newAuthorizeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Run the device authorization for every credential set and list reachable accounts",
		Long: `Runs the device authorization for every configured credential set and
prints the accounts each one can reach, so tenant IDs can be copied into the
config file. Tokens are kept in memory only; nothing is polled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthorize(*configPath)
		},
	}
	return cmd
}

func runAuthorize(configPath string) error {
	cfg, err := config.LoadCredentialsOnly(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger, app.WithPromptWriter(os.Stdout))
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}
	defer application.Close()

	if err := application.Authorize(ctx); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	accounts, err := application.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}

	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("Credential %s:\n", name)
		if len(accounts[name]) == 0 {
			fmt.Println("  (no accounts)")
		}
		for _, acc := range accounts[name] {
			fmt.Printf("  %-40s %s\n", acc.ID, acc.Name)
		}
	}
	return nil
}
