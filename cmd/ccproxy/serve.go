package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/af-corp/ccproxy/internal/admin"
	"github.com/af-corp/ccproxy/internal/auth"
	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/discovery"
	"github.com/af-corp/ccproxy/internal/gateway"
	"github.com/af-corp/ccproxy/internal/httputil"
	"github.com/af-corp/ccproxy/internal/status"
	"github.com/af-corp/ccproxy/internal/telemetry"
	"github.com/af-corp/ccproxy/internal/tester"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy and the control plane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	store, err := config.NewStore(opts.configPath, logger)
	if err != nil {
		return err
	}

	statusStore, err := status.Open(ctx, cfg.Status, logger)
	if err != nil {
		return fmt.Errorf("open status store: %w", err)
	}
	defer statusStore.Close()

	tracker := status.NewTracker(statusStore, logger)
	tracker.Sync(providerNames(store.Snapshot()))
	restoreStatus(ctx, statusStore, store, tracker, logger)
	store.OnReload(func(snap *config.Snapshot) {
		tracker.Sync(providerNames(snap))
	})
	if err := store.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	forwarder := gateway.NewHandler(store, gateway.NewClient(cfg.UpstreamTimeout()), metrics, logger)
	refresher := discovery.NewRefresher(store, tracker, nil, metrics, logger)
	orch := tester.New(store, tracker, refresher, nil, metrics, logger)
	defer orch.Close()

	scheduler := tester.NewScheduler(orch, cfg.Tests.Schedule, tester.Options{
		Prompt:  cfg.Tests.Prompt,
		Model:   cfg.Tests.Model,
		Refresh: true,
	})
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	if cfg.Discovery.RefreshOnStart {
		go func() {
			results := refresher.RefreshAll(ctx)
			updated := 0
			for _, res := range results {
				if res.Updated {
					updated++
				}
			}
			logger.Info("startup model refresh finished", "providers", len(results), "updated", updated)
		}()
	}

	clientKey := func() string { return store.Snapshot().Config.APIKey }

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.RequestID)

	r.Get("/health", admin.Health(version, store))
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(clientKey, false))
		forwarder.Mount(r, cfg.ProxyPaths)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(clientKey, true))
		admin.New(store, tracker, refresher, orch, forwarder.Streaks(), logger).Mount(r)
	})

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	// No write timeout: streamed completions can run for many minutes.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ccproxy starting",
			"addr", addr,
			"version", version,
			"selected_provider", store.Snapshot().Config.SelectedProvider,
			"providers", len(cfg.Providers),
			"client_auth", cfg.APIKey != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("ccproxy stopped")
	return nil
}

func providerNames(snap *config.Snapshot) []string {
	names := make([]string, 0, len(snap.Config.Providers))
	for _, p := range snap.Config.Providers {
		names = append(names, p.Name)
	}
	return names
}

// restoreStatus seeds test results and discovered model lists from the
// status store. Records for providers no longer in the config are dropped.
func restoreStatus(ctx context.Context, st status.Store, store *config.Store, tracker *status.Tracker, logger *slog.Logger) {
	records, err := st.Load(ctx)
	if err != nil {
		logger.Warn("failed to load persisted provider status", "error", err)
		return
	}
	tracker.Seed(records)
	restored := 0
	for _, rec := range records {
		if len(rec.Models) == 0 {
			continue
		}
		if err := store.UpdateModels(rec.Provider, rec.Models); err == nil {
			restored++
		}
	}
	if len(records) > 0 {
		logger.Info("restored provider status", "records", len(records), "model_lists", restored)
	}
}
