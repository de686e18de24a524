package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"redline/api/internal/app"
	"redline/api/internal/auth"
	"redline/api/internal/config"
	"redline/api/internal/events"
	"redline/api/internal/export"
	"redline/api/internal/gitrepo"
	"redline/api/internal/mcpserver"
	"redline/api/internal/metrics"
	"redline/api/internal/search"
	"redline/api/internal/session"
	"redline/api/internal/store"
)

// deps holds everything a process opened and must close on exit.
type deps struct {
	db       *sql.DB
	sessions session.Store
	meili    *search.Meili
	closers  []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func openDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	d.db = db
	d.closers = append(d.closers, func() { _ = db.Close() })

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		d.close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		d.close()
		return nil, fmt.Errorf("create repos dir: %w", err)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		d.sessions = redisStore
		d.closers = append(d.closers, func() { _ = redisStore.Close() })
	} else {
		logger.Warn("redis_url not set, tracking sessions are kept in process memory")
		d.sessions = session.NewMemoryStore()
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		d.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	return d, nil
}

func buildService(cfg config.Config, d *deps, logger *slog.Logger, opts ...app.Option) (*app.Service, error) {
	exportOpts := []export.Option{export.WithLogger(logger)}
	if cfg.S3.Enabled() {
		archiver, err := export.NewS3Archiver(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("init export archive: %w", err)
		}
		exportOpts = append(exportOpts, export.WithArchiver(archiver))
	}

	// Close flushes pending index updates and stops the Meilisearch client.
	searchService := search.NewService(d.meili, search.NewPgFTS(d.db), logger)
	d.closers = append(d.closers, searchService.Close)

	opts = append([]app.Option{
		app.WithLogger(logger),
		app.WithSearch(searchService),
		app.WithExporter(export.NewService(exportOpts...)),
	}, opts...)
	return app.New(cfg, store.NewPostgresStore(d.db), gitrepo.New(cfg.ReposDir), d.sessions, opts...), nil
}

func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.Addr),
		slog.String("repos_dir", cfg.ReposDir),
		slog.Bool("redis", cfg.RedisURL != ""),
		slog.Bool("meilisearch", cfg.MeiliURL != ""),
		slog.Bool("export_archive", cfg.S3.Enabled()),
		slog.String("log_level", cfg.SlogLevel().String()))

	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	broker := events.NewBroker(2 * time.Second)
	defer broker.Close()
	m := metrics.New(func() float64 { return float64(broker.ClientCount("")) })

	service, err := buildService(cfg, d, logger, app.WithEvents(broker), app.WithMetrics(m))
	if err != nil {
		return err
	}
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap failed, will retry on next restart", slog.String("error", err.Error()))
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, issuer, broker, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		// Event streams never finish on their own.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		logger.Info("Server stopped")
		return nil
	})

	return g.Wait()
}

func runMCP(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	service, err := buildService(cfg, d, logger)
	if err != nil {
		return err
	}
	logger.Info("Starting MCP server", slog.String("ai_author", cfg.AIAuthor))
	return mcpserver.New(service, cfg.AIAuthor, version).ServeStdio()
}
