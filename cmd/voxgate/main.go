package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgate/voxgate/internal/api"
	"github.com/voxgate/voxgate/internal/audit"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/database/pgstore"
	"github.com/voxgate/voxgate/internal/dial"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/provider"
	"github.com/voxgate/voxgate/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voxgate",
		"http_port", cfg.HTTPPort,
		"public_base_url", cfg.PublicBaseURL,
		"data_dir", cfg.DataDir,
	)

	// Open the embedded database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	routingRepo := database.NewRoutingConfigRepository(db)
	targetsRepo := database.NewForwardTargetsRepository(db)

	// Transfer log store: embedded SQLite by default, PostgreSQL when a
	// DSN is configured so multiple instances can share one audit trail.
	var logStore database.TransferLogRepository
	var transitions metrics.TransitionCounter
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.New(cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgresql transfer log", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		logStore = pg
		transitions = pg
	} else {
		repo := database.NewTransferLogRepository(db)
		logStore = repo
		transitions, _ = repo.(metrics.TransitionCounter)
	}

	recorder := audit.NewRecorder(logStore, logger)

	sessions := transfer.NewManager(recorder, logger, transfer.Options{
		WhisperWindow: time.Duration(cfg.WhisperWindowSeconds) * time.Second,
		AcceptDigit:   cfg.AcceptDigit,
		DeclineDigit:  cfg.DeclineDigit,
	})
	defer sessions.Shutdown()

	// Telephony provider client, dialer, and status callback plumbing.
	if cfg.ProviderBaseURL == "" {
		slog.Warn("no provider base url configured, outbound call control will fail")
	}
	client := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAccountSID, cfg.ProviderAuthToken, logger)
	waiters := provider.NewStatusWaiters()
	dialer := provider.NewDialer(client, waiters, cfg.PublicBaseURL, logger)
	dialer.From = func(callSid string) string {
		if snap := sessions.Get(callSid); snap != nil {
			return snap.PhoneNumber
		}
		return ""
	}
	dialer.OnLegCreated = func(callSid, legSid string) {
		if err := sessions.AttachAgentLeg(callSid, legSid); err != nil {
			slog.Info("agent leg not attached", "call_sid", callSid, "leg_sid", legSid, "error", err)
		}
	}

	perTargetMin := time.Duration(cfg.PerTargetMinSeconds) * time.Second
	orchestrator := dial.NewOrchestrator(dialer, recorder, logger, perTargetMin)
	plans := dial.NewPlanStore()

	// Metrics are scraped on demand; the collector pulls from the live
	// session manager and the transfer log.
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(sessions, transitions, recorder, time.Now()))
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	handler := api.NewServer(api.Deps{
		Config:       cfg,
		Logger:       logger,
		Routing:      routingRepo,
		Targets:      targetsRepo,
		Recorder:     recorder,
		Sessions:     sessions,
		Plans:        plans,
		Orchestrator: orchestrator,
		Calls:        client,
		Waiters:      waiters,
		Metrics:      metricsHandler,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout. In-flight webhooks finish; pending
	// whisper timers are stopped by the deferred manager shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voxgate stopped")
}
