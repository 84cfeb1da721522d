package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trados-tasks-go/internal/app"
	"trados-tasks-go/internal/config"
	"trados-tasks-go/internal/logging"
)

func newServeCmd(configPath *string) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Authorize every credential set, then poll all tenants",
		Long: `Acquires an access token for every configured credential set, printing a
verification URL and user code when a device authorization is needed. Any
failure in this phase stops the command. Afterwards every tenant is polled
on its own schedule and the status API and metrics are served until
interrupted.`,
		Example: `  trados-tasks serve --config config.yaml
  TRADOS_MAIN_CLIENT_SECRET=... trados-tasks serve -c config.json --no-watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload tenants when the config file changes")

	return cmd
}

func runServe(configPath string, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("trados-tasks starting",
		"config", configPath,
		"credentials", len(cfg.Credentials),
		"tenants", len(cfg.Tenants))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{}
	if watch {
		opts = append(opts, app.WithConfigPath(configPath))
	}
	application, err := app.New(cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}
	defer application.Close()

	if err := application.Authorize(ctx); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
