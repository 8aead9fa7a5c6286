package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamscao/breakglass/internal/app"
	"github.com/adamscao/breakglass/internal/config"
	"github.com/adamscao/breakglass/internal/logging"
)

const passphraseEnv = "BREAKGLASS_SIGNING_PASSPHRASE"

// globals holds the persistent flags shared by every command
type globals struct {
	configPath string
	logLevel   string
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "breakglass-admin",
		Short:         "Break-glass credential service administration tool",
		Long:          "Administrative tool for managing signing keys, approvals, credential requests and the audit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.logger = logging.NewCommandLogger(g.logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "/etc/breakglass/config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newSignApprovalCmd())
	rootCmd.AddCommand(newFingerprintCmd())
	rootCmd.AddCommand(newLedgerCmd(g))
	rootCmd.AddCommand(newRequestsCmd(g))
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStorage opens the database and ledger without the signing key
func (g *globals) openStorage(ctx context.Context) (*app.App, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenStorage(ctx, cfg, app.Options{Logger: g.logger})
}

// openServices opens everything the credential manager needs. The signing
// key must already exist.
func (g *globals) openServices(ctx context.Context) (*app.App, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, app.Options{Logger: g.logger})
}

// passphrase returns the flag value, falling back to the environment
func passphrase(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(passphraseEnv); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("passphrase is required (use --passphrase or set %s)", passphraseEnv)
}
