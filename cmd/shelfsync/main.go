package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shelfsync/shelfsync/internal/api"
	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/identity"
	"github.com/shelfsync/shelfsync/internal/notifier"
	"github.com/shelfsync/shelfsync/internal/source"
	"github.com/shelfsync/shelfsync/internal/store"
	"github.com/shelfsync/shelfsync/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("shelfsync starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"ttl", cfg.Engine.TTL,
		"fetch_timeout", cfg.Engine.FetchTimeout,
		"endpoint", cfg.Source.Endpoint,
		"http_port", cfg.Server.HTTPPort,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Remote collection source, with optional local fallback for offline
	// bootstrap.
	var src source.Source = source.NewHTTP(cfg.Source)
	if cfg.Source.LocalCatalog != "" {
		src = source.NewFallback(src, source.NewFile(cfg.Source.LocalCatalog))
		slog.Info("local catalog fallback enabled", "path", cfg.Source.LocalCatalog)
	}

	// Identity: watched session file, or a fixed anonymous fingerprint when
	// no file is configured.
	var provider identity.Provider
	if cfg.Identity.SessionFile != "" {
		fp := identity.NewFileProvider(cfg.Identity.SessionFile)
		go func() {
			if err := fp.Run(ctx); err != nil {
				slog.Error("identity watcher stopped", "err", err)
			}
		}()
		provider = fp
	} else {
		provider = identity.NewStatic(catalog.Anonymous())
		slog.Info("no session file configured, running anonymous")
	}

	// Cache, notifier, and the identity-change loop.
	st := store.New(src, cfg.Engine.TTL, cfg.Engine.FetchTimeout)
	ntf := notifier.New(st, provider)
	go ntf.Run(ctx)
	ntf.Initialize(ctx)

	// WebSocket hub — relays every publish to connected UI clients.
	hub := ws.New(ntf)
	go hub.Run(ctx)

	apiHandler := api.New(ntf)
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/metrics", apiHandler)
	mux.Handle("/ws/collections", hub)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shelfsync shutting down")
	srv.Shutdown(context.Background()) //nolint:errcheck
}
