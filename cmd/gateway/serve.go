package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sapphir-health/sapphir-gateway/internal/api/controlplane"
	"github.com/sapphir-health/sapphir-gateway/internal/frontdoor/chat"
	"github.com/sapphir-health/sapphir-gateway/internal/server"
	"github.com/sapphir-health/sapphir-gateway/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(serviceName, version, nil, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.sessions.Run(ctx, cfg.Sessions.SweepInterval)

	srv := server.New(cfg.Server.Port, logger, server.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})
	chat.NewHandler(a.service, cfg.Server.MaxUploadBytes, logger).Mount(srv.Router)
	srv.Router.Handle("/ws", chat.NewWSHandler(a.service, cfg.Sessions.DefaultKey, cfg.Server.CORSOrigins, cfg.Server.RequestTimeout, logger))
	srv.Router.Handle("/metrics", a.metrics.Handler())
	srv.Router.Mount("/admin", controlplane.NewServer(controlplane.Overview{
		Model:         a.client.Model(),
		UpstreamURL:   a.client.Endpoint(),
		StorageType:   cfg.Storage.Type,
		CannedEntries: a.canned.Len(),
		Sessions:      a.sessions.Len,
	}, a.store))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("gateway started",
		slog.String("version", version),
		slog.String("model", a.client.Model()),
		slog.String("storage", cfg.Storage.Type),
		slog.Duration("session_idle_ttl", cfg.Sessions.IdleTTL),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, stopping gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}

	logger.Info("gateway shutdown complete")
	return nil
}
