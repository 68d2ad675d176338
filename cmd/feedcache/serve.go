package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/feedcache/internal/config"
	"github.com/Sternrassler/feedcache/pkg/cache"
	"github.com/Sternrassler/feedcache/pkg/imagedetect"
	"github.com/Sternrassler/feedcache/pkg/logging"
	"github.com/Sternrassler/feedcache/pkg/metrics"
	"github.com/Sternrassler/feedcache/pkg/orchestrator"
	"github.com/Sternrassler/feedcache/pkg/render"
	"github.com/Sternrassler/feedcache/pkg/store"
	"github.com/Sternrassler/feedcache/pkg/upstream"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the feed HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// app holds the wired service graph.
type app struct {
	store   store.Store
	cache   *cache.Manager
	service *orchestrator.Service
	router  http.Handler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.NewLogger("server")

	st, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("store not reachable: %w", err)
	}

	cm := cache.NewManager(st, cfg.CacheConfig())
	if stats, err := cm.Stats(ctx); err == nil {
		logger.Info().
			Str("backend", cfg.Cache.Backend).
			Int("data", stats[store.NamespaceData]).
			Int("content", stats[store.NamespaceContent]).
			Int("image", stats[store.NamespaceImage]).
			Msg("Cache store opened")
	}

	fetcher, err := upstream.New(cfg.UpstreamConfig())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	var detector orchestrator.ImageDetector
	if cfg.EnrichesImages() {
		d, err := imagedetect.New(cfg.DetectorConfig(), nil)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("image detector: %w", err)
		}
		detector = d
	}

	svc := orchestrator.NewService(cfg.OrchestratorConfig(), cm, fetcher, render.NewFeedRenderer(), detector)

	a := &app{store: st, cache: cm, service: svc}
	a.router = a.routes()
	return a, nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	r.Get("/ready", a.ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Mount("/", orchestrator.NewHandler(a.service).Routes())

	return r
}

func (a *app) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Readiness check failed")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "READY")
}

func (a *app) Close() error {
	return a.store.Close()
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("upstream", cfg.Upstream.BaseURL).
			Int("collections", len(cfg.Collections)).
			Bool("cache_enabled", cfg.Cache.Enabled).
			Msg("Starting feed server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
