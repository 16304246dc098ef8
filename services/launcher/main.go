package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/gofbot/gofbot-launcher/pkg/config"
	helpers "github.com/gofbot/gofbot-launcher/pkg/shared"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/botconfig"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/bridge"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/monitor"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/processHelpers"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/supervisor"
)

func main() {
	logger := helpers.NewLogger("launcher", "info")
	slog.SetDefault(logger)

	id := uuid.New()
	slog.Info("Starting launcher", "uuid", id.String())

	pflag.String("config", "", "Path to config file (default: ./launcher.toml)")
	pflag.String("env_file", ".env", "Optional .env file loaded before the config")
	pflag.String("log_level", "info", "Log level (debug|info|warn|error)")
	pflag.Int("port", 8090, "HTTP server port")
	pflag.String("hostname", "127.0.0.1", "Hostname to listen on")
	pflag.String("bot_path", "", "Directory holding pokecli.py (default: <app_root>/gofbot)")
	pflag.String("frontend_dir", "", "Directory with the launcher UI")
	pflag.String("interpreter", "python", "Python interpreter used to run the bot")
	pflag.String("override", "", "Override simple config values (string, int, bool) as comma-separated key:value pairs (e.g., launcher.port:9000,log_level:debug)")

	pflag.Parse()

	config.LoadDotEnv(pflag.Lookup("env_file").Value.String())

	if err := config.BindFlags(pflag.CommandLine, map[string]string{
		"log_level":    "log_level",
		"port":         "launcher.port",
		"hostname":     "launcher.hostname",
		"bot_path":     "launcher.bot_path",
		"frontend_dir": "launcher.frontend_dir",
		"interpreter":  "launcher.interpreter",
	}); err != nil {
		slog.Error("Failed to bind flags", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(pflag.Lookup("config").Value.String(), pflag.Lookup("override").Value.String())
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Update the logger to use the configured log level
	logger = helpers.NewLogger("launcher", cfg.LogLevel)
	slog.SetDefault(logger)

	appRoot := cfg.ResolveAppRoot()
	botPath := cfg.ResolveBotPath()
	slog.Info("Resolved paths", "appRoot", appRoot, "botPath", botPath, "environment", cfg.Environment)

	if cfg.Launcher.FrontendDir != "" {
		info, err := os.Stat(cfg.Launcher.FrontendDir)
		if err != nil || !info.IsDir() {
			slog.Error("Failed to set frontendDir", "error", err, "dirname", cfg.Launcher.FrontendDir)
			os.Exit(1)
		}
	}

	// Cancelled on SIGINT/SIGTERM, or when the last UI window closes
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, quit := context.WithCancel(sigCtx)
	defer quit()

	metrics := supervisor.NewPrometheusMetricsCollector("gofbot")
	metrics.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var sup *supervisor.Supervisor
	hub := bridge.NewHub(
		bridge.WithHubLogger(logger.With("component", "bridge")),
		bridge.OnAllClosed(func() {
			sup.Shutdown("window-all-closed")
			if cfg.Launcher.QuitOnLastClose {
				quit()
			}
		}),
	)

	sup = supervisor.New(
		botPath,
		botconfig.NewSynthesizer(
			botconfig.WithLogger(logger.With("component", "botconfig")),
			botconfig.WithLockTimeout(cfg.Launcher.LockTimeout),
		),
		processHelpers.NewLauncher(
			processHelpers.WithInterpreter(cfg.Launcher.Interpreter),
			processHelpers.WithEntryPoint(cfg.Launcher.EntryPoint),
			processHelpers.WithAppRoot(appRoot),
			processHelpers.WithLogger(logger.With("component", "launcher")),
		),
		hub,
		supervisor.WithLogger(logger.With("component", "supervisor")),
		supervisor.WithMonitor(monitor.New(
			monitor.WithFatalMarker(cfg.Launcher.FatalMarker),
			monitor.WithLogger(logger.With("component", "monitor")),
		)),
		supervisor.WithMetrics(metrics),
	)

	srv := bridge.NewServer(hub, sup,
		bridge.WithSecret(cfg.Launcher.BridgeSecret),
		bridge.WithFrontendDir(cfg.Launcher.FrontendDir),
		bridge.WithMetricsHandler(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})),
		bridge.WithProbe(func(ctx context.Context) error {
			return processHelpers.ProbeControlServer(ctx, cfg.Launcher.ControlPort, time.Second)
		}),
		bridge.WithLogger(logger.With("component", "bridge")),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Launcher.Hostname, cfg.Launcher.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Run server in background
	go func() {
		slog.Info("Launcher listening", "hostname", cfg.Launcher.Hostname, "port", cfg.Launcher.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ListenAndServe error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down", "cause", context.Cause(ctx))

	sup.Shutdown("will-quit")
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server Shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shut down gracefully")
	}

	slog.Info("Launcher exited gracefully")
}
