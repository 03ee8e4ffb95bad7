package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/oauth-engine"
	"github.com/giantswarm/oauth-engine/instrumentation"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the token and revocation endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}

	inst, err := newInstrumentation(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}()

	engine, err := oauth.NewEngine(ctx, cfg, oauth.EngineOptions{
		Instrumentation: inst,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(engine.Handler, cfg.MetricsEnabled),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Token engine listening", "addr", cfg.ListenAddr, "storage", cfg.Storage, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return engine.Sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newInstrumentation(cfg *oauth.Config) (*instrumentation.Instrumentation, error) {
	if !cfg.MetricsEnabled {
		return instrumentation.NewNoop(), nil
	}
	return instrumentation.New(instrumentation.Config{
		Enabled:        true,
		ServiceVersion: version,
		MetricExporter: instrumentation.ExporterPrometheus,
	})
}

func newRouter(h *oauth.Handler, metrics bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/oauth/token", h.ServeToken)
	r.Post("/oauth/revoke", h.ServeRevocation)
	r.With(h.ValidateToken).Get("/oauth/tokeninfo", serveTokenInfo)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// serveTokenInfo describes the caller's own access token.
func serveTokenInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := oauth.AccessTokenFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"client_id": token.ClientID,
		"sub":       token.UserID,
		"scope":     token.Scopes.String(),
		"exp":       token.ExpiryDate.Unix(),
	}); err != nil {
		slog.Default().Debug("Failed to write token info", "error", err)
	}
}
