package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"academy/internal/adapters/api"
	web "academy/internal/adapters/http"
	"academy/internal/adapters/http/perf"
	"academy/internal/adapters/push"
	"academy/internal/adapters/storage"
	outboxStorePkg "academy/internal/adapters/storage/outbox"
	recordStorePkg "academy/internal/adapters/storage/record"
	"academy/internal/application/clientstore"
	"academy/internal/application/orchestrators"
	"academy/internal/application/reconcile"
	"academy/internal/application/selection"
	"academy/internal/config"
	"academy/internal/domain/outbox"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("ACADEMY_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("academyd_failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h).With("version", version))
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := storage.Open(ctx, cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	collector := perf.NewCollector(perf.DefaultRingSize)
	timedDB := storage.NewTimedDB(db, collector, storage.DefaultSlowQuery)
	outboxStore := outboxStorePkg.NewSQLiteStore(timedDB)
	snapshots := recordStorePkg.NewSQLiteStore(timedDB)

	store := clientstore.New(clientstore.Options{})
	defer store.Close()

	snapshotDeps := orchestrators.SnapshotDeps{Store: store, Snapshots: snapshots}
	if err := orchestrators.ExecuteHydrateFromSnapshot(ctx, snapshotDeps); err != nil {
		slog.Warn("snapshot_hydrate_failed", "error", err)
	}

	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token,
		api.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		api.WithCollector(collector),
	)
	coordinator := orchestrators.NewCoordinator(orchestrators.CoordinatorDeps{API: client, Store: store})
	selections := selection.NewRegistry(store, selection.Options{Location: cfg.Location()})

	// Push events are applied by the listener; a reconnect means events may
	// have been missed, so every cached collection is refetched.
	listener := reconcile.NewListener(store, reconcile.Options{QueueSize: cfg.Listener.QueueSize})
	if err := listener.Start(ctx); err != nil {
		return err
	}
	defer listener.Stop()

	subscriber := push.NewSubscriber(cfg.PushURL(), cfg.Backend.Token, listener.Enqueue, push.Options{
		OnReconnect: store.InvalidateAll,
	})
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		if err := subscriber.Run(ctx); err != nil {
			slog.Error("push_subscriber_stopped", "error", err)
		}
	}()

	processor := orchestrators.NewOutboxProcessor(outboxStore, map[string]orchestrators.ActionExecutor{
		outbox.ActionTypePushToken: &orchestrators.PushTokenExecutor{API: client},
	})
	if cfg.PushToken.Token != "" {
		id, err := orchestrators.ExecuteRegisterPushToken(ctx, orchestrators.RegisterPushTokenInput{
			Token:    cfg.PushToken.Token,
			Platform: cfg.PushToken.Platform,
		}, orchestrators.RegisterPushTokenDeps{OutboxStore: outboxStore})
		if err != nil {
			slog.Warn("push_token_not_queued", "error", err)
		} else {
			slog.Info("push_token_queued", "entry_id", id)
		}
	}
	outboxStopCh := make(chan struct{})
	orchestrators.StartBackgroundWorker(processor, cfg.Storage.OutboxInterval, outboxStopCh)
	defer close(outboxStopCh)

	snapshotStopCh := make(chan struct{})
	snapshotDone := orchestrators.StartSnapshotWorker(snapshotDeps, cfg.Storage.SnapshotInterval, snapshotStopCh)

	csrfKey, err := cfg.CSRFKey()
	if err != nil {
		return err
	}
	handler := web.NewMux(&web.Services{
		Store:       store,
		Feed:        client,
		Fetcher:     client,
		Coordinator: coordinator,
		Selections:  selections,
		Listener:    listener,
		Subscriber:  subscriber,
		Outbox:      outboxStore,
		Processor:   processor,
		Location:    cfg.Location(),
	}, collector, web.Options{
		Context:        ctx,
		CSRFKey:        csrfKey,
		Secure:         cfg.Server.Secure,
		TrustedOrigins: cfg.Server.TrustedOrigins,
		RatePerSecond:  cfg.Server.RatePerSecond,
		SlowRequest:    cfg.Server.SlowRequest,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("academyd_starting", "addr", cfg.Server.Addr, "env", cfg.Env, "schema", storage.SchemaVersion, "backend", cfg.Backend.BaseURL)
		serveErr <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		slog.Info("academyd_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http_shutdown_failed", "error", err)
		}
	}

	cancel()
	<-pushDone
	close(snapshotStopCh)
	<-snapshotDone
	return runErr
}
