package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/gateway"
	"github.com/osahq/osa/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent runtime: HTTP gateway, channels, and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	rt, err := buildRuntime(cfg, true)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.skills.Watch(ctx); err != nil {
		slog.Warn("skills watcher unavailable", "error", err)
	}

	mgr, err := buildChannels(cfg, rt.loop)
	if err != nil {
		return err
	}
	if err := mgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer mgr.StopAll(context.Background())

	if rt.mcpMgr != nil {
		if err := rt.mcpMgr.Start(ctx); err != nil {
			slog.Warn("mcp startup incomplete", "error", err)
		}
		defer rt.mcpMgr.Stop()
	}

	if rt.cronSched != nil {
		go rt.cronSched.Run(ctx)
		slog.Info("cron scheduler started", "db", cfg.Cron.DBPath)
	}

	srv := gateway.NewServer(cfg.Gateway, gateway.Deps{
		Loop:       rt.loop,
		Orch:       rt.orch,
		Classifier: rt.classify,
		Tools:      rt.tools,
		Sessions:   rt.sessions,
		Tracker:    rt.tracker,
		Events:     rt.events,
	})

	slog.Info("osa serving", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port, "version", Version)
	return srv.Start(ctx)
}
