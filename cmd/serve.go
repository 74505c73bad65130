package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/creds"
	"github.com/nextlevelbuilder/wagate/internal/plugins"
	"github.com/nextlevelbuilder/wagate/internal/server"
	"github.com/nextlevelbuilder/wagate/internal/session"
	"github.com/nextlevelbuilder/wagate/internal/wa"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pairing HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	store := creds.NewFileStore(cfg.Auth.Dir)

	// Startup seeding bypasses the pairing flow entirely.
	if cfg.Seed.Number != "" && cfg.Seed.Blob != "" {
		number, err := session.NormalizeNumber(cfg.Seed.Number)
		if err != nil {
			return err
		}
		if err := store.Seed(number, cfg.Seed.Blob); err != nil {
			return err
		}
		slog.Info("credential record seeded from environment", "number", number)
	}

	autoSeen := plugins.NewAutoSeen(cfg.AutoSeen)
	registry := plugins.NewRegistry(autoSeen)

	events := bus.New()
	factory := wa.NewFactory(store, registry, waLogLevel(cfg.LogLevel))
	manager := session.NewManager(factory, store, events, session.Config{
		CodeTimeout:    cfg.CodeTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		SendSession:    cfg.Pairing.SendSession,
	})
	defer manager.Shutdown()

	limiter := server.NewRateLimiter(cfg.Server.PairRateRPM, cfg.Server.PairRateBurst)
	defer limiter.Close()

	srv := server.New(manager, events, limiter, session.Mode(cfg.Pairing.DefaultMode))

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			slog.Warn("config hot reload unavailable", "error", err)
		} else {
			watcher.OnChange(func(next *config.Config) {
				manager.SetTimeouts(next.CodeTimeout(), next.ConnectTimeout())
				limiter.Update(next.Server.PairRateRPM, next.Server.PairRateBurst)
				autoSeen.SetEnabled(next.AutoSeen)
				srv.SetDefaultMode(session.Mode(next.Pairing.DefaultMode))
			})
			if err := watcher.Start(); err != nil {
				slog.Warn("config hot reload unavailable", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("wagate starting",
		"port", cfg.Server.Port,
		"auth_dir", cfg.Auth.Dir,
		"code_timeout", cfg.CodeTimeout().String(),
		"auto_seen", cfg.AutoSeen)

	err := srv.Run(ctx, cfg.Server.Port)

	// Give in-flight disconnects a moment before the process exits.
	time.Sleep(100 * time.Millisecond)
	return err
}

// waLogLevel maps our log level onto the protocol library's scale.
func waLogLevel(level string) string {
	switch level {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	default:
		return "WARN"
	}
}
