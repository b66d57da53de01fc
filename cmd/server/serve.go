package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/auth"
	"github.com/dgnsrekt/catalog-stream/internal/notify"
	"github.com/dgnsrekt/catalog-stream/internal/server"
	"github.com/dgnsrekt/catalog-stream/internal/store"
	"github.com/dgnsrekt/catalog-stream/internal/stream"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming HTTP server (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	logger.Info("configuration loaded",
		zap.String("port", cfg.App.Port),
		zap.String("db", cfg.DB.Connection),
		zap.String("timezone", cfg.App.Timezone),
		zap.Duration("itemsPollInterval", cfg.Stream.ItemsPollInterval),
		zap.Duration("ordersPollInterval", cfg.Stream.OrdersPollInterval),
		zap.Duration("maxLifetime", cfg.Stream.MaxLifetime),
		zap.Bool("discordEnabled", cfg.Notify.DiscordWebhookURL != ""),
	)

	st, err := store.Open(ctx, &cfg.DB, cfg.Location(), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	clock := clockwork.NewRealClock()

	reporter := notify.NewDropReporter(
		notify.New(cfg.Notify.DiscordWebhookURL, logger),
		cfg.Notify.RatePerMinute,
		clock,
		logger,
	)

	registry := stream.NewRegistry(cfg.Stream.QueueCapacity, logger)
	registry.OnDrop(func(kind store.Kind, sessionID string) {
		reporter.Report(notify.DropEvent{Kind: kind.Event(), SessionID: sessionID, At: clock.Now()})
	})

	items := st.Source(store.Items)
	orders := st.Source(store.Orders)
	tokens := auth.NewTokenStore(st, cfg.Auth.TokenValidity, clock, logger)

	streams := stream.NewHandler(
		registry,
		map[store.Kind]stream.Snapshotter{store.Items: items, store.Orders: orders},
		stream.SessionConfigFrom(&cfg.Stream),
		cfg.Stream.GzipLevel,
		clock,
		logger,
	)
	router, err := server.NewRouter(server.Options{
		Streams:       streams,
		Registry:      registry,
		Validator:     tokens,
		AllowedOrigin: cfg.App.URL,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	background(reporter.Run)
	background(stream.NewDetector(items, registry, cfg.Stream.ItemsPollInterval, clock, logger).Run)
	background(stream.NewDetector(orders, registry, cfg.Stream.OrdersPollInterval, clock, logger).Run)
	background(auth.NewSweeper(tokens, cfg.Auth.SweepInterval, clock, logger).Run)

	// No WriteTimeout: streams stay open for the full session lifetime.
	httpServer := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down server...")

	// Cancelling the base context ends open streams before Shutdown waits.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	wg.Wait()
	logger.Info("server stopped")
	return runErr
}
