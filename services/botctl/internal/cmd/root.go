// Package cmd holds the botctl command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gofbot/gofbot-launcher/pkg/config"
	helpers "github.com/gofbot/gofbot-launcher/pkg/shared"
)

var (
	configPath  string
	overrideStr string
	jsonOutput  bool

	client *Client
)

var rootCmd = &cobra.Command{
	Use:   "botctl",
	Short: "Control a running gofbot launcher",
	Long: `botctl starts, stops and watches the bot managed by a gofbot launcher.

It talks to the launcher's control port, configured with ctl.address or the
--address flag. When the launcher requires a bridge token, pass it with --token
or let botctl sign one from launcher.bridge_secret.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to config file (default: ./launcher.toml)")
	flags.StringVar(&overrideStr, "override", "", "Override simple config values as comma-separated key:value pairs")
	flags.String("address", "http://127.0.0.1:8090", "Launcher address")
	flags.String("token", "", "Bridge token")
	flags.Duration("timeout", 10*time.Second, "Request timeout")
	flags.String("log_level", "warn", "Log level (debug|info|warn|error)")
	flags.BoolVar(&jsonOutput, "json", false, "Output as JSON")
}

func setup(cmd *cobra.Command, args []string) error {
	slog.SetDefault(helpers.NewLoggerTo(os.Stderr, "botctl", "warn"))
	config.LoadDotEnv()

	if err := config.BindFlags(cmd.Flags(), map[string]string{
		"address":   "ctl.address",
		"token":     "ctl.token",
		"timeout":   "ctl.timeout",
		"log_level": "log_level",
	}); err != nil {
		return err
	}

	cfg, err := config.Load(configPath, overrideStr)
	if err != nil {
		return err
	}
	slog.SetDefault(helpers.NewLoggerTo(os.Stderr, "botctl", cfg.LogLevel))

	token, err := bridgeToken(cfg)
	if err != nil {
		return err
	}

	client, err = NewClient(cfg.Ctl.Address, token, cfg.Ctl.Timeout)
	return err
}

// bridgeToken prefers an explicit token and otherwise signs a short lived one
// when the shared secret is known locally.
func bridgeToken(cfg *config.Config) (string, error) {
	if cfg.Ctl.Token != "" {
		return cfg.Ctl.Token, nil
	}
	if cfg.Launcher.BridgeSecret == "" {
		return "", nil
	}
	hostname, _ := os.Hostname()
	token, err := helpers.IssueBridgeToken(cfg.Launcher.BridgeSecret, "botctl@"+hostname, 5*time.Minute)
	if err != nil {
		return "", fmt.Errorf("sign bridge token: %w", err)
	}
	return token, nil
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return 2
		}
		return 1
	}
	return 0
}
