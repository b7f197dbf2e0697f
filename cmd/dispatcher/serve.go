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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/followups/internal/api"
	"github.com/ashureev/followups/internal/dispatch"
	"github.com/ashureev/followups/internal/health"
	"github.com/ashureev/followups/internal/middleware"
	"github.com/ashureev/followups/internal/scheduler"
	"github.com/ashureev/followups/internal/sequence"
	"github.com/ashureev/followups/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the gRPC health service and the scheduled passes",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	hub := stream.NewHub(slog.Default())
	d := a.dispatcher(hub)
	editor := sequence.NewEditor(a.repo, slog.Default())

	sched, err := scheduler.New(cfg.Dispatch.Schedule, cfg.Dispatch.PassTimeout, func(ctx context.Context) error {
		_, err := d.Run(ctx, dispatch.RunRequest{})
		if errors.Is(err, dispatch.ErrPassInProgress) {
			slog.Info("Skipping scheduled pass, another pass holds the lease")
			return nil
		}
		return err
	}, slog.Default())
	if err != nil {
		return err
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(d, editor, a.repo)
	healthHandler := api.NewHealthHandler(baseHandler)
	dispatchHandler := api.NewDispatchHandler(baseHandler)
	stepHandler := api.NewStepHandler(baseHandler)
	wsHandler := stream.NewHandler(hub, cfg.WebSocketOrigins()...)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKeys))
		dispatchHandler.RegisterRoutes(r)
		stepHandler.RegisterRoutes(r)
		r.Get("/ws/dispatch", wsHandler.ServeHTTP)
	})

	// WriteTimeout stays 0: manual passes and the websocket stream are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sched.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.NewServer(a.repo, 15*time.Second, slog.Default()).ListenAndServe(gctx, ":"+cfg.GRPCPort)
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Wait for shutdown signal or a failed listener.
		<-gctx.Done()
		stop()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
