package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reminderd/internal/api"
	"reminderd/internal/config"
	"reminderd/internal/core"
	"reminderd/internal/eventbus"
	"reminderd/internal/logging"
	"reminderd/internal/mcp"
	"reminderd/internal/notify"
	"reminderd/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting reminderd", "mode", cfg.Mode, "state_dir", cfg.StateDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	var sender notify.Sender
	if cfg.DryRun {
		logger.Warn("dry-run mode: deliveries are recorded but not sent")
		sender = notify.NoopSender{}
	} else {
		discord, err := notify.NewDiscordSender(cfg.DiscordAPIBase, cfg.DiscordToken)
		if err != nil {
			logger.Error("configure discord sender", "err", err,
				"hint", "set REMINDERD_DISCORD_TOKEN or run with -dry-run")
			os.Exit(1)
		}
		sender = discord
	}

	location := time.Local
	if cfg.UseUTC {
		location = time.UTC
	}

	bus := eventbus.NewBus()
	deliverer := core.NewDeliverer(st, sender, logger, bus)
	scheduler := core.NewScheduler(st, deliverer, logger, location)

	scheduler.Start(ctx)
	// All active rows must be registered before any surface can accept
	// delivery-affecting calls.
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("sync schedules", "err", err)
		os.Exit(1)
	}
	logger.Info("schedules synced", "entries", scheduler.EntryCount())

	if cfg.Mode != "http" && cfg.Mode != "mcp" && cfg.Mode != "both" {
		logger.Error("unknown run mode", "mode", cfg.Mode)
		os.Exit(1)
	}

	errCh := make(chan error, 2)

	var httpServer *api.Server
	if cfg.Mode == "http" || cfg.Mode == "both" {
		httpServer, err = api.NewServer(cfg.Addr, cfg.AuthSecret, st, scheduler, deliverer, bus, logger, location, cfg.RotateMaxAgeDays)
		if err != nil {
			logger.Error("create http server", "err", err)
			os.Exit(1)
		}
		go func() {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if cfg.Mode == "mcp" || cfg.Mode == "both" {
		mcpServer := mcp.NewMCPServer(st, scheduler, deliverer, logger, location)
		go func() {
			if err := mcpServer.Run(); err != nil {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "err", err)
		}
	}

	// Wait for in-flight trigger jobs before the database closes under them.
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("shutdown grace expired with jobs still running")
	}
	logger.Info("stopped")
}
