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

	"github.com/spf13/cobra"

	"github.com/fzpathan/dr-rag-project/cache"
	"github.com/fzpathan/dr-rag-project/catalog"
	"github.com/fzpathan/dr-rag-project/config"
	"github.com/fzpathan/dr-rag-project/health"
	"github.com/fzpathan/dr-rag-project/httpapi"
	"github.com/fzpathan/dr-rag-project/rag"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "remedyd.yaml", "path to config file")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := newLogger(cfg.Log.Level)

	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = cat.Close() }()

	client, err := rag.NewClient(rag.Config{
		BaseURL:        cfg.Upstream.URL,
		APIKey:         cfg.Upstream.APIKey,
		Timeout:        cfg.Upstream.Timeout,
		MaxAttempts:    cfg.Upstream.MaxAttempts,
		InitialBackoff: cfg.Upstream.InitialBackoff,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("init upstream client: %w", err)
	}

	svc, err := cache.NewService(client, cache.Options{
		MaxEntries:      cfg.Cache.MaxEntries,
		TTL:             cfg.Cache.TTL,
		DefaultTopK:     cfg.Cache.DefaultTopK,
		UpstreamTimeout: cfg.Cache.UpstreamTimeout,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("init cache service: %w", err)
	}

	registry := health.NewRegistry()
	registry.Register("catalog", cat.Ping)

	opts := []httpapi.ServerOption{
		httpapi.WithLogger(logger),
		httpapi.WithHealthRegistry(registry),
	}
	if !cfg.Auth.Disabled {
		opts = append(opts, httpapi.WithVerifier(httpapi.NewVerifier(httpapi.VerifierConfig{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		})))
	}
	api := httpapi.NewServer(svc, cat, opts...)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
