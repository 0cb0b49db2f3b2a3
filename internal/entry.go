// Package internal provides the main application initialization and runtime logic.
package internal

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
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/beeprep/waggle/internal/api"
	"github.com/beeprep/waggle/internal/assetwatch"
	"github.com/beeprep/waggle/internal/backend"
	"github.com/beeprep/waggle/internal/canvasservice"
	"github.com/beeprep/waggle/internal/generate"
	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/history"
	"github.com/beeprep/waggle/internal/mcpserver"
	"github.com/beeprep/waggle/internal/models"
	"github.com/beeprep/waggle/internal/persist"
	"github.com/beeprep/waggle/internal/projectdb"
	"github.com/beeprep/waggle/internal/resolve"
	"github.com/beeprep/waggle/internal/sse"
)

// brokerEvents adapts the SSE broker to the canvas service event interface.
type brokerEvents struct {
	b *sse.Broker
}

func (e brokerEvents) Publish(eventType string, data any) {
	e.b.Publish(sse.Event{Type: eventType, Data: data})
}

func (e brokerEvents) PublishGeneration(outputType, status string, progress int) {
	e.b.PublishGeneration(outputType, status, progress)
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. In MCP mode stdout carries the
	// protocol stream, so logs go to stderr.
	logOut := os.Stdout
	if app.mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("backend_url", cfg.Backend.BaseURL),
		slog.String("database_path", cfg.Database.Path),
		slog.String("assets_dir", cfg.Assets.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Generation backend client.
	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.Token)

	// Project persistence: local SQLite when a database path is configured,
	// otherwise the backend itself.
	var (
		projects persist.ProjectStore = client
		lister   canvasservice.ProjectLister
		arts     persist.ArtifactSource = client
	)
	if cfg.Database.LocalProjects() {
		db, err := projectdb.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("init project database: %w", err)
		}
		defer db.Close()
		// Local project ids are unknown to the backend, so artifact
		// reconciliation is skipped and stored node snapshots are trusted.
		projects = db
		lister = db
		arts = nil
	}

	// Canvas state, history, and debounced persistence.
	store := graph.NewStore()
	hist := history.New(store, history.DefaultLimit)
	syncer := persist.New(store, projects, arts, logger)
	syncer.SetDebounce(cfg.Autosave.Debounce())
	store.OnMutate(hist.Hook())
	store.OnMutate(syncer.Hook())

	resolver := resolve.New(store, syncer, logger)

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// The orchestrator sink forwards to the service, which is built after
	// the orchestrator. The indirection breaks the construction cycle.
	var svc *canvasservice.Service
	orch := generate.New(client, generate.SinkFunc(func(t models.OutputType, st generate.State) {
		if svc != nil {
			svc.GenerationUpdated(t, st)
		}
	}), logger,
		generate.WithPollInterval(cfg.Generate.PollInterval()),
		generate.WithMaxAttempts(cfg.Generate.MaxPollAttempts),
	)
	defer orch.CancelAll()

	svc = canvasservice.New(store, hist, resolver, orch, syncer, lister, brokerEvents{broker}, logger)

	if app.mcpMode {
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc).ServeStdio()
	}

	// Build API router.
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(broker.ServeHTTP))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start asset watcher when a directory is configured.
	if cfg.Assets.Dir != "" {
		if err := os.MkdirAll(cfg.Assets.Dir, 0o755); err != nil {
			return fmt.Errorf("create assets dir: %w", err)
		}
		g.Go(func() error {
			if err := assetwatch.Watch(gCtx, svc, cfg.Assets.Dir, logger); err != nil {
				logger.Error("asset watcher error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Flush any pending canvas save before the process exits.
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := syncer.Flush(flushCtx); err != nil {
			logger.Warn("final flush failed", slog.String("error", err.Error()))
		}
		flushCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
