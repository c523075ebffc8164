// Package main is the entry point for the Sentinel operator console server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/approval"
	"github.com/pitabwire/sentinel/internal/bankapi"
	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/feedapi"
	"github.com/pitabwire/sentinel/internal/invoker"
	"github.com/pitabwire/sentinel/internal/listview"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/internal/query"
	"github.com/pitabwire/sentinel/internal/session"
	"github.com/pitabwire/sentinel/internal/stream"
	"github.com/pitabwire/sentinel/internal/transport"
	"github.com/pitabwire/sentinel/internal/workflow"
	"github.com/pitabwire/sentinel/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "sentinel-console", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Backend clients.
	clients := invoker.NewRegistry(cfg.Services,
		invoker.WithLogger(logger),
		invoker.WithMetrics(metrics),
	)
	bank := bankapi.New(clients.MustGet(invoker.ServiceBank))
	feed := feedapi.New(clients.MustGet(invoker.ServiceFeed))

	var bankContract *invoker.Contract
	if cfg.Contract.Enabled {
		bankContract = invoker.NewContract(
			invoker.ServiceBank,
			contractSource(cfg),
			bankapi.Endpoints(cfg.Services.Bank.APIPrefix),
			logger, metrics,
		)
		// Missing endpoints are logged; readiness reports them.
		if missing, err := bankContract.Missing(ctx); err != nil {
			logger.Warn("bank contract check failed", zap.Error(err))
		} else if len(missing) > 0 {
			logger.Warn("bank backend is missing endpoints", zap.Int("missing", len(missing)))
		}
	}

	// Step 5: Session store and operator session.
	store, storeCloser, err := session.OpenStore(ctx, cfg.Session.Store, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	defer storeCloser()

	sess := session.NewFromConfig(cfg.Session, store,
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	)

	// Step 6: Query cache, list views and the live workflow board.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	cache := query.NewFromConfig(cfg.Cache,
		query.WithLogger(logger),
		query.WithMetrics(metrics),
	)
	views := listview.New(bank, feed, cache, logger)
	poller := query.NewPoller(bgCtx, cache)

	subscriber := stream.NewFromConfig(cfg.Stream,
		stream.WithLogger(logger),
		stream.WithMetrics(metrics),
	)
	board := workflow.NewBoard(subscriber, logger, metrics)
	board.OnEvent(views.HandleEvent)

	// Step 7: Approval controller.
	approvals := approval.NewController(bank, model.DefaultSettings().ApprovalCountdown,
		approval.WithLogger(logger),
		approval.WithMetrics(metrics),
		approval.WithActionTimeout(cfg.Approval.ActionTimeout),
		approval.WithOnCommitted(func(string, string) { views.InvalidateWorkflows() }),
	)

	// Saved settings drive the countdown and the auto-refresh loop. The
	// configured poll interval is the floor.
	sess.OnSettingsChange(func(s model.Settings) {
		approvals.SetCountdown(s.ApprovalCountdown)
		interval := max(time.Duration(s.RefreshIntervalMs)*time.Millisecond, cfg.Cache.PollInterval)
		poller.Apply(s.AutoRefresh, interval)
	})
	if err := sess.Open(ctx); err != nil {
		logger.Error("session restore failed", zap.Error(err))
		return 1
	}

	// Step 8: Build HTTP router.
	readiness := observability.ReadinessChecks{
		StreamConnected: subscriber.IsConnected,
		SessionStore:    sess,
	}
	if bankContract != nil {
		readiness.BankContract = bankContract
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Session:   sess,
		Board:     board,
		Approvals: approvals,
		Views:     views,
		Signals:   bank,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	subscriber.Start(bgCtx)
	boardDone := make(chan struct{})
	go func() {
		defer close(boardDone)
		if err := board.Run(bgCtx); err != nil {
			logger.Error("workflow board stopped", zap.Error(err))
		}
	}()

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("stream", cfg.Stream.URL),
		zap.String("session_store", cfg.Session.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Pending countdowns are dropped, not committed.
	approvals.Close()
	poller.Stop()
	subscriber.Close()
	bgCancel()
	<-boardDone
	sess.Close()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exitCode
}

// contractSource returns the configured OpenAPI document location, or the
// bank's own /openapi.json.
func contractSource(cfg *config.Config) string {
	if cfg.Contract.Source != "" {
		return cfg.Contract.Source
	}
	return strings.TrimRight(cfg.Services.Bank.BaseURL, "/") + "/openapi.json"
}
