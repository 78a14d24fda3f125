package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"realty/server/config"
	"realty/server/internal/api"
	"realty/server/internal/cache"
	"realty/server/internal/database"
	"realty/server/internal/listing"
	"realty/server/internal/processor"
	"realty/server/internal/query"
	"realty/server/internal/queue"
	"realty/server/internal/remote"
	"realty/server/internal/scheduler"
	"realty/server/internal/view"
)

const (
	eventBufferSize = 16
	shutdownTimeout = 10 * time.Second
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Server.LogLevel).Warn("Unknown log level, keeping info")
	}

	if err := config.LoadCategories(cfg.View.CategoriesPath); err != nil {
		logger.WithError(err).Fatal("Failed to load category overrides")
	}

	// Initialize database
	logger.Infof("Using database at: %s", cfg.Database.Path)
	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	// Caches share the sqlite table under separate namespaces
	durable := database.NewCacheStore(db, cfg.Database.CacheQuotaBytes)
	details := cache.NewKeyValueCache(durable, cache.Options{
		Namespace:  cfg.Cache.Namespace,
		DefaultTTL: cfg.Cache.DefaultTTL,
	}, logger)
	queries := query.NewClient(durable, query.ClientOptions{
		Namespace:     cfg.Query.Namespace,
		MinRefetchAge: cfg.Query.MinRefetchAge,
		Defaults: query.Options{
			StaleTime: cfg.Query.StaleTime,
			GCTime:    cfg.Query.GCTime,
		},
	}, logger)

	// Remote store
	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, logger)
	readyCtx, cancelReady := context.WithTimeout(context.Background(),
		time.Duration(cfg.Remote.ReadyRetries+1)*(cfg.Remote.ReadyInterval+cfg.Remote.Timeout))
	if err := remote.WaitReady(readyCtx, client.Ping(cfg.Remote.Table), cfg.Remote.ReadyRetries, cfg.Remote.ReadyInterval); err != nil {
		logger.WithError(err).Warn("Remote store unavailable, serving cached and mirrored listings until it answers")
	}
	cancelReady()

	events := queue.NewCollectionQueue(eventBufferSize, logger)

	loaderOpts := listing.Options{
		Table:       cfg.Remote.Table,
		MinInterval: cfg.Sync.MinInterval,
		Query: query.Options{
			StaleTime:          cfg.Query.StaleTime,
			GCTime:             cfg.Query.GCTime,
			RefetchOnFocus:     true,
			RefetchOnReconnect: true,
		},
	}
	if cfg.Mirror.Enabled {
		loaderOpts.Fallback = db.LoadMirror
	}
	loader := listing.NewLoader(client, queries, details, events, loaderOpts, logger)

	// View sessions follow every published collection
	sessions := api.NewSessionManager(loader.Current, view.Options{
		ItemsPerPage:   cfg.View.ItemsPerPage,
		SearchDebounce: cfg.View.SearchDebounce,
	}, cfg.View.SessionTTL, nil, logger)
	defer sessions.Close()
	events.Subscribe(sessions.Broadcast)

	if cfg.Mirror.Enabled {
		mirror := processor.NewMirrorProcessor(db.GetDB(), events, cfg, logger)
		mirror.Start()
		defer mirror.Stop()
	}
	events.Start()
	defer func() {
		if err := events.Close(); err != nil {
			logger.WithError(err).Warn("Failed to drain collection queue")
		}
	}()

	sched := scheduler.NewScheduler(loader, map[string]func() int{
		"kv_purged":        details.Purge,
		"queries_gc":       queries.GC,
		"sessions_expired": sessions.Sweep,
	}, cfg, logger)
	sched.Start()
	defer sched.Stop()

	// Initialize router
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(cfg.Server.AllowedOrigins)
	api.SetupRoutes(router, api.NewHandler(loader, queries, sessions, logger))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
}
