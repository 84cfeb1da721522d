package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trados-tasks-go/internal/config"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(newConfigValidateCmd(configPath))
	return cmd
}

func newConfigValidateCmd(configPath *string) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and environment overrides",
		Example: `  trados-tasks config validate --config config.yaml
  trados-tasks config validate -c config.json --show`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			fmt.Printf("Config OK: %d credential set(s), %d tenant(s)\n", len(cfg.Credentials), len(cfg.Tenants))
			for _, t := range cfg.Tenants {
				fmt.Printf("  %-40s %-20s every %s via %s\n", t.TenantID, t.Name, t.PollInterval(), t.Credentials)
			}
			if show {
				return printRedacted(cfg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the effective configuration with secrets redacted")

	return cmd
}

func printRedacted(cfg *config.Config) error {
	redacted := *cfg
	redacted.Credentials = make([]config.Credential, len(cfg.Credentials))
	for i, cred := range cfg.Credentials {
		cred.ClientSecret = "REDACTED"
		redacted.Credentials[i] = cred
	}
	if redacted.Server.APIKey != "" {
		redacted.Server.APIKey = "REDACTED"
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(redacted)
}
