// Package main provides the entry point for the gatefetch server.
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

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jmylchreest/gatefetch/internal/api/handlers"
	"github.com/jmylchreest/gatefetch/internal/browser"
	"github.com/jmylchreest/gatefetch/internal/config"
	"github.com/jmylchreest/gatefetch/internal/fetch"
	"github.com/jmylchreest/gatefetch/internal/http/mw"
	"github.com/jmylchreest/gatefetch/internal/journal"
	"github.com/jmylchreest/gatefetch/internal/logging"
	"github.com/jmylchreest/gatefetch/internal/session"
	"github.com/jmylchreest/gatefetch/internal/shutdown"
	"github.com/jmylchreest/gatefetch/internal/useragent"
	"github.com/jmylchreest/gatefetch/internal/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration first (logging config comes from env)
	cfg := config.Load()

	// slog-logfilter handler; respects LOG_LEVEL and LOG_FORMAT
	logger := logging.SetDefault()
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	logger.Info("starting gatefetch",
		"version", version.Get().String(),
		"port", cfg.Port,
		"origin", cfg.TargetOrigin,
		"warmup_url", cfg.WarmupURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launcher := browser.NewLauncher(browser.Options{
		RemoteURL:         cfg.BrowserWSEndpoint,
		ChromePath:        cfg.ChromePath,
		NoSandbox:         cfg.BrowserNoSandbox,
		DisableStealth:    cfg.DisableStealth,
		NavigationTimeout: cfg.NavigationTimeout,
		NetworkIdleWait:   cfg.NetworkIdleWait,
		RequestTimeout:    cfg.RequestTimeout,
	}, logger)
	if err := launcher.Warmup(); err != nil {
		return err
	}

	sessions := session.NewManager(launcher, session.Options{
		WarmupURL:   cfg.WarmupURL,
		TTL:         cfg.SessionTTL,
		MaxUses:     cfg.SessionMaxUses,
		IdleTimeout: cfg.BrowserIdleTimeout,
		UserAgents:  useragent.New(),
	}, logger)
	defer sessions.Close()
	go sessions.StartCleanup(ctx)

	execOpts := fetch.Options{
		Origin:      cfg.TargetOrigin,
		WarmupURL:   cfg.WarmupURL,
		MaxAttempts: cfg.FetchMaxAttempts,
	}

	// Journal is optional; a nil store must stay a nil interface below.
	var journalReader handlers.JournalReader
	if cfg.JournalDBPath != "" {
		store, err := journal.Open(cfg.JournalDBPath, logger)
		if err != nil {
			return fmt.Errorf("open fetch journal: %w", err)
		}
		defer store.Close()
		go store.StartCleanup(ctx, cfg.JournalRetention, time.Hour)

		execOpts.Recorder = store
		journalReader = store
		logger.Info("fetch journal enabled", "path", cfg.JournalDBPath, "retention", cfg.JournalRetention)
	}

	executor, err := fetch.NewExecutor(sessions, execOpts, logger)
	if err != nil {
		return err
	}

	idle := shutdown.NewIdleMonitor(shutdown.IdleConfig{
		Timeout: cfg.IdleTimeout,
		Logger:  logger,
	})
	idle.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestContext())
	r.Use(mw.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(idle.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			mw.HeaderSignature, mw.HeaderTimestamp, mw.HeaderClientID,
		},
		ExposedHeaders: []string{mw.HeaderRequestID, mw.HeaderVersion},
		MaxAge:         300,
	}))

	if cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		logger.Info("rate limiting enabled", "per_minute", cfg.RateLimitPerMinute)
	}

	humaConfig := huma.DefaultConfig("gatefetch", version.Get().Version)
	humaConfig.Info.Description = "Fetches JSON from a bot-protected origin through a shared headless browser session"
	if humaConfig.Components.SecuritySchemes == nil {
		humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	humaConfig.Components.SecuritySchemes[mw.SecurityScheme] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}

	// Public routes
	publicAPI := humachi.New(r, humaConfig)
	handlers.RegisterPublic(publicAPI, handlers.NewHealthHandler(sessions))

	// Protected routes
	protectedRouter := chi.NewRouter()
	switch {
	case cfg.AuthEnabled():
		protectedRouter.Use(mw.Auth(mw.AuthConfig{
			APISecret: cfg.APISecret,
			JWTSecret: cfg.JWTSecret,
			Logger:    logger,
		}))
		logger.Info("authentication enabled",
			"signed_headers", cfg.APISecret != "",
			"bearer_tokens", cfg.JWTSecret != "",
		)
	case cfg.AllowUnauthenticated:
		logger.Warn("authentication disabled - ALLOW_UNAUTHENTICATED is set")
	default:
		logger.Warn("no authentication configured - service is unprotected")
	}

	protectedConfig := humaConfig
	protectedConfig.OpenAPIPath = ""
	protectedConfig.DocsPath = ""
	protectedConfig.SchemasPath = ""
	protectedAPI := humachi.New(protectedRouter, protectedConfig)
	protectedAPI.UseMiddleware(mw.HumaRequireScope(protectedAPI))

	handlers.Register(protectedAPI, handlers.Set{
		Fetch:   handlers.NewFetchHandler(executor, cfg.RequestTimeout*time.Duration(executor.MaxAttempts()), logger),
		Session: handlers.NewSessionHandler(sessions, logger),
		Fetches: handlers.NewFetchesHandler(journalReader),
	})
	r.Mount("/", protectedRouter)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout*time.Duration(executor.MaxAttempts()) + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down server...", "signal", sig.String())
	case <-idle.Done():
		logger.Info("shutting down idle server...")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	// Stop background loops before draining
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped", "session", sessions.Stats())
	return nil
}
