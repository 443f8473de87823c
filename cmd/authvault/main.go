package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	catalogadapter "github.com/canvasflow/authvault/internal/adapter/driven/catalog"
	engineadapter "github.com/canvasflow/authvault/internal/adapter/driven/engine"
	"github.com/canvasflow/authvault/internal/adapter/driven/memory"
	"github.com/canvasflow/authvault/internal/adapter/driven/probe"
	"github.com/canvasflow/authvault/internal/adapter/driven/provider"
	sqliteadapter "github.com/canvasflow/authvault/internal/adapter/driven/sqlite"
	httphandler "github.com/canvasflow/authvault/internal/adapter/driving/http"
	"github.com/canvasflow/authvault/internal/application"
	"github.com/canvasflow/authvault/internal/config"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on a missing or short master secret).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"refresh_interval", cfg.RefreshInterval,
		"refresh_lookahead", cfg.RefreshLookahead,
		"oauth_clients", len(cfg.OAuthClients),
		"engine_configured", cfg.HasEngine(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Credential store. Construction derives the encryption key and
	// rejects an undersized master secret.
	credentialStore, err := sqliteadapter.NewCredentialRepo(db, cfg.MasterSecret)
	if err != nil {
		return err
	}

	// 6. Service catalog, with live reload when an override file is set.
	serviceCatalog, err := catalogadapter.New(cfg.CatalogPath, slog.Default())
	if err != nil {
		return err
	}
	go func() {
		if err := serviceCatalog.Watch(ctx); err != nil {
			slog.Error("catalog watcher stopped", "error", err)
		}
	}()
	slog.Info("service catalog loaded", "services", len(serviceCatalog.List()))

	// 7. Outbound adapters. The rate limiter is shared between token
	// endpoints and probes so one service's traffic is budgeted as a whole.
	limiter := provider.NewRateLimiter()
	tokenClient := provider.NewTokenClient(limiter, slog.Default())
	checker := probe.NewChecker(limiter, cfg.ProbeTimeout, slog.Default())

	var engineClient driven.EngineClient
	if cfg.HasEngine() {
		engineClient = engineadapter.NewClient(cfg.EngineURL, cfg.EngineAPIKey, slog.Default())
		slog.Info("engine provisioning enabled", "url", cfg.EngineURL)
	} else {
		slog.Info("no engine configured, credentials will not be provisioned downstream")
	}

	// 8. Application services.
	stateStore := memory.NewStateStore()
	oauthSvc := application.NewOAuthService(serviceCatalog, stateStore, tokenClient, checker, cfg.OAuthClients, cfg.StateTTL)
	credentialSvc := application.NewCredentialService(credentialStore, serviceCatalog, oauthSvc, checker, engineClient, cfg.ValidateOnStore)
	validatorSvc := application.NewValidatorService(credentialStore, serviceCatalog, checker)

	// 9. Start the token refresh scheduler.
	scheduler := application.NewRefreshScheduler(credentialStore, oauthSvc, cfg.RefreshInterval, cfg.RefreshLookahead)
	scheduler.Start()

	// 10. HTTP server.
	apiHandler := httphandler.NewHandler(credentialSvc, oauthSvc, validatorSvc, scheduler, serviceCatalog, db, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("authvault started", "listen_addr", cfg.ListenAddr)

	// 11. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 12. Stop the scheduler first so no scan is mid-write when the
	// database closes, then drain the HTTP server.
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
