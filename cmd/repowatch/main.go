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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	chatadapter "github.com/ericfisherdev/repowatch/internal/adapter/driven/chat"
	githubadapter "github.com/ericfisherdev/repowatch/internal/adapter/driven/github"
	postgresadapter "github.com/ericfisherdev/repowatch/internal/adapter/driven/postgres"
	sqliteadapter "github.com/ericfisherdev/repowatch/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/repowatch/internal/adapter/driving/command"
	httphandler "github.com/ericfisherdev/repowatch/internal/adapter/driving/http"
	webhandler "github.com/ericfisherdev/repowatch/internal/adapter/driving/web"
	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/config"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid values).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"postgres", cfg.UsePostgres(),
		"poll_interval", cfg.PollInterval,
		"fetch_timeout", cfg.FetchTimeout,
		"concurrency", cfg.PollConcurrency,
		"persist_watermarks", cfg.PersistMarks,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the registry store and run migrations.
	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.close()

	// 4. Wire driven adapters.
	source, err := githubadapter.NewClient(githubadapter.Options{
		BaseURL: cfg.GitHubAPIURL,
		Token:   cfg.GitHubToken,
		Logger:  slog.Default(),
	})
	if err != nil {
		return err
	}
	if cfg.GitHubToken == "" {
		slog.Warn("no github token configured, polling at the anonymous rate limit")
	}

	var messenger driven.Messenger
	if cfg.ChatWebhookURL != "" {
		messenger = chatadapter.NewWebhookMessenger(chatadapter.WebhookOptions{
			URL:   cfg.ChatWebhookURL,
			Token: cfg.ChatWebhookToken,
		})
		slog.Info("chat webhook configured")
	} else {
		messenger = chatadapter.NewLogMessenger(slog.Default())
		slog.Info("no chat webhook configured, announcements are logged only")
	}

	var markStore driven.WatermarkStore
	if cfg.PersistMarks {
		markStore = stores.marks
	}

	// 5. Build the polling pipeline.
	svc := application.NewService(stores.repos, source, messenger, markStore, application.ServiceConfig{
		Interval:     cfg.PollInterval,
		FetchTimeout: cfg.FetchTimeout,
		Concurrency:  cfg.PollConcurrency,
	})

	// 6. Apply the seed file, then start tracking.
	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := svc.Registry.ApplySeed(ctx, seedEntries(seed)); err != nil {
			slog.Error("seed applied with errors", "error", err)
		}
		slog.Info("seed applied", "file", cfg.SeedFile, "repos", len(seed.Repositories))
	}
	if err := svc.Init(ctx); err != nil {
		return err
	}

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		svc.Start(ctx)
	}()

	// 7. Driving adapters: REST API, command bridge and dashboard.
	router := command.NewRouter(svc.Registry, svc.Poll, 2*cfg.FetchTimeout, slog.Default())

	mux := http.NewServeMux()
	apiHandler := httphandler.NewHandler(svc.Registry, router, svc.Poll, svc.Announcer, slog.Default())
	httphandler.RegisterRoutes(mux, apiHandler, cfg.CommandToken)

	webHandler := webhandler.NewHandler(svc.Registry, svc.Watermarks, svc.Poll, svc.Announcer, 2*cfg.FetchTimeout, slog.Default())
	webhandler.RegisterRoutes(mux, webHandler)

	handler := httphandler.ApplyMiddleware(mux, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2*cfg.FetchTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("repowatch started",
		"listen_addr", cfg.ListenAddr,
		"tracked", len(svc.Pollers.Tracked()),
	)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// 9. Let the in-flight cycle finish, then persist the final cursors.
	select {
	case <-pollDone:
	case <-shutdownCtx.Done():
		slog.Warn("poll loop did not stop before shutdown deadline")
	}
	if err := svc.Flush(shutdownCtx); err != nil {
		slog.Error("final watermark flush failed", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// storeSet is the registry and watermark storage chosen by configuration.
type storeSet struct {
	repos driven.RepoStore
	marks driven.WatermarkStore
	close func()
}

// openStores opens PostgreSQL when a database URL is configured and the
// SQLite file otherwise. Migrations are applied before returning.
func openStores(ctx context.Context, cfg *config.Config) (*storeSet, error) {
	if cfg.UsePostgres() {
		pool, err := postgresadapter.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgresadapter.RunMigrations(pool); err != nil {
			pool.Close()
			return nil, err
		}
		slog.Info("postgres store ready")

		return &storeSet{
			repos: postgresadapter.NewRepoRepo(pool),
			marks: postgresadapter.NewWatermarkRepo(pool),
			close: pool.Close,
		}, nil
	}

	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store ready", "path", db.Path())

	return &storeSet{
		repos: sqliteadapter.NewRepoRepo(db),
		marks: sqliteadapter.NewWatermarkRepo(db),
		close: func() {
			if err := db.Close(); err != nil {
				slog.Error("error closing database", "error", err)
			}
		},
	}, nil
}

func seedEntries(seed *config.Seed) []application.SeedEntry {
	entries := make([]application.SeedEntry, 0, len(seed.Repositories))
	for _, r := range seed.Repositories {
		entries = append(entries, application.SeedEntry{
			FullName: r.Name,
			Channels: r.Channels,
			Enabled:  r.Enabled,
			Push:     r.Push,
		})
	}
	return entries
}
