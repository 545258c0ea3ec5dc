package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/titty-skittles/Apex-Overlay/internal/broadcast"
	"github.com/titty-skittles/Apex-Overlay/internal/config"
	"github.com/titty-skittles/Apex-Overlay/internal/httpapi"
	"github.com/titty-skittles/Apex-Overlay/internal/ingest"
	"github.com/titty-skittles/Apex-Overlay/internal/logging"
	"github.com/titty-skittles/Apex-Overlay/internal/overlay"
	"github.com/titty-skittles/Apex-Overlay/internal/rawstate"
	"github.com/titty-skittles/Apex-Overlay/internal/settings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo settings.Repository = settings.NewMemoryRepository(settings.Default())
	if cfg.DatabaseURL != "" {
		repo, err = settings.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open settings db: %w", err)
		}
		log.Info("settings persisted to postgres")
	}

	store := rawstate.New()
	store.OnListenerPanic = func(r any) {
		log.Error("store listener panicked", zap.Any("panic", r))
	}

	b, err := broadcast.New(ctx, broadcast.Options{
		Source:       store,
		Builder:      overlay.NewBuilder(cfg.KeyPrefix),
		Repo:         repo,
		PingInterval: cfg.PingInterval,
		Logger:       log.Named("broadcast"),
	})
	if err != nil {
		return err
	}
	store.Subscribe(b.Listener())

	client, err := ingest.New(store, ingest.Options{
		Paths:      cfg.IngestPaths,
		StaleAfter: cfg.StaleAfter,
		MaxDepth:   cfg.SetDeepMaxDepth,
		Logger:     log.Named("ingest"),
	})
	if err != nil {
		return err
	}
	client.Events().Subscribe(func(ev ingest.StatusEvent) {
		log.Debug("ingest status",
			zap.String("phase", string(ev.Phase)),
			zap.Bool("connected", ev.Connected),
			zap.Bool("stale", ev.Stale),
			zap.Int("attempt", ev.Attempt),
			zap.Int64("wait_ms", ev.WaitMs),
		)
	})
	client.Start(ctx)
	if err := client.SetTargetURL(cfg.IngestURL); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Broadcaster:      b,
			Ingest:           client,
			SubscriberBuffer: cfg.SubscriberBuffer,
			Logger:           log.Named("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("ingest_url", cfg.IngestURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		client.Stop()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Streaming handlers exit once the broadcaster closes their outboxes.
		b.Close()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
