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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/tutor-core/internal/answer"
	"github.com/ashureev/tutor-core/internal/api"
	"github.com/ashureev/tutor-core/internal/config"
	"github.com/ashureev/tutor-core/internal/dictation"
	"github.com/ashureev/tutor-core/internal/events"
	"github.com/ashureev/tutor-core/internal/identity"
	"github.com/ashureev/tutor-core/internal/middleware"
	"github.com/ashureev/tutor-core/internal/orchestrator"
	"github.com/ashureev/tutor-core/internal/prompts"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and dictation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "checkpoint_backend", cfg.Checkpoint.Backend)

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()
	if err := st.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	catalog, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return err
	}

	model, closeModel, err := openModel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeModel()

	profiles, closeProfiles, err := openProfiles(ctx, cfg, st.repo, logger)
	if err != nil {
		return err
	}
	defer closeProfiles()

	bus, err := openEvents(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			slog.Warn("Failed to close event bus", "error", closeErr)
		}
	}()

	orch, err := orchestrator.New(orchestrator.Deps{
		Model:       model,
		Profiles:    profiles,
		Repo:        st.repo,
		Checkpoints: st.checkpoints,
		Events:      bus,
		Prompts:     catalog,
		Sampler: &answer.FidelitySampler{
			Model:     model,
			Prompts:   catalog,
			Events:    bus,
			Logger:    logger,
			Rate:      cfg.Answer.SampleRate,
			Threshold: cfg.Answer.Threshold,
		},
		Logger: logger,
		Config: orchestrator.Config{
			QuizMaxQuestions: cfg.Quiz.MaxQuestions,
			RequireDocument:  cfg.Quiz.RequireDocument,
		},
	})
	if err != nil {
		return err
	}

	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer rateLimiter.Close()

	apiHandler := api.NewHandler(orch, st.repo, api.WithRateLimiter(rateLimiter), api.WithLogger(logger))
	healthHandler := api.NewHealthHandler(5*time.Second, map[string]api.Pinger{"database": st.repo})
	recorders := dictation.NewManager()
	wsHandler := dictation.NewHandler(orch, recorders, cfg.AllowedOrigins(), cfg.IsDevelopment(), logger,
		answer.WithPollInterval(cfg.Answer.PollInterval), answer.WithPauseAfter(cfg.Answer.PauseAfter))

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(st.repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/dictation", wsHandler.ServeHTTP)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	dictation.StartReaper(gctx, recorders, cfg.DictationIdleTTL)

	g.Go(func() error {
		return events.Audit(gctx, bus, logger, events.AllTopics...)
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		recorders.CloseAll("server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
