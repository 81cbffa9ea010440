package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/captions"
	"github.com/PortNumber53/social-scheduler/internal/config"
	"github.com/PortNumber53/social-scheduler/internal/database"
	"github.com/PortNumber53/social-scheduler/internal/handlers"
	"github.com/PortNumber53/social-scheduler/internal/jobs"
	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/metrics"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/publisher"
	"github.com/PortNumber53/social-scheduler/internal/publisher/platforms"
	"github.com/PortNumber53/social-scheduler/internal/realtime"
	"github.com/PortNumber53/social-scheduler/internal/scheduling"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/PortNumber53/social-scheduler/internal/store/memstore"
	"github.com/PortNumber53/social-scheduler/internal/store/postgres"
	"github.com/PortNumber53/social-scheduler/internal/workers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// deps holds the process boundaries run needs so tests can replace them.
type deps struct {
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	notify         func(c chan<- os.Signal, sig ...os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		getenv: os.Getenv,
		openDB: func(_, dsn string) (*sql.DB, error) {
			return database.Open(dsn)
		},
		migrateUp:      migrateUp,
		listenAndServe: func(s *http.Server) error { return s.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(defaultDeps()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateUp(db *sql.DB) error {
	if db == nil {
		return errors.New("migrateUp: nil db")
	}
	return database.RunMigrations(db)
}

func resolvePort(getenv func(string) string) string {
	if p := strings.TrimSpace(getenv("PORT")); p != "" {
		return p
	}
	return "18911"
}

// parseIntervalFromEnv reads a positive number of seconds, falling back to def.
func parseIntervalFromEnv(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// buildRouter wires the API routes plus the operational endpoints. hub and gatherer are
// optional.
func buildRouter(h *handlers.Handler, hub *realtime.Hub, gatherer prometheus.Gatherer, wsSecret string) *mux.Router {
	r := mux.NewRouter()
	handlers.RegisterRoutes(h, r)
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer)).Methods("GET")
	}
	if hub != nil {
		r.Handle("/api/events/ws", hub.Handler(wsSecret)).Methods("GET")
	}
	return r
}

// openStores returns the configured document store. The returned close func is never nil.
func openStores(cfg *config.Config, d deps, log logrus.FieldLogger) (store.Stores, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("[Store] using in-memory store; data is lost on restart")
		return memstore.New().Stores(), func() {}, nil
	}
	if d.openDB == nil {
		return store.Stores{}, nil, errors.New("openDB is not configured")
	}
	db, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return store.Stores{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return store.Stores{}, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.RunMigrations && d.migrateUp != nil {
		if err := d.migrateUp(db); err != nil {
			_ = db.Close()
			return store.Stores{}, nil, fmt.Errorf("database migration failed: %w", err)
		}
		log.Info("[Store] database is up-to-date")
	}
	return postgres.New(db), func() { _ = db.Close() }, nil
}

func run(d deps) error {
	if d.getenv == nil {
		d.getenv = os.Getenv
	}
	if d.listenAndServe == nil {
		return errors.New("listenAndServe is not configured")
	}
	cfg, err := config.Load(d.getenv)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	log := logging.WithService(logger, "api")

	stores, closeStores, err := openStores(cfg, d, log)
	if err != nil {
		return err
	}
	defer closeStores()

	// Root context for background workers and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(registry)

	hub := realtime.NewHub(log)
	notifier := notify.New(stores.Notifications,
		notify.WithTTL(cfg.NotificationTTL),
		notify.WithEmitter(hub),
		notify.WithMetrics(rec),
		notify.WithLogger(log),
	)

	alloc := scheduling.NewAllocator(stores.Content,
		scheduling.WithLocation(cfg.Location()),
		scheduling.WithAllocatorMetrics(rec),
	)
	svc := scheduling.NewService(scheduling.ServiceDeps{
		Content:     stores.Content,
		Preferences: stores.Preferences,
		Allocator:   alloc,
		Notifier:    notifier,
		Logger:      log,
	})

	captionClient := captions.New(cfg.CaptionServiceURL, cfg.CaptionServiceToken, cfg.CaptionTimeout)
	processor := jobs.NewCaptionProcessor(stores.Content, captionClient, notifier, log)
	queue := jobs.NewCaptionQueue(jobs.Config{
		MaxRetries:     cfg.QueueMaxRetries,
		BaseDelay:      cfg.QueueBaseDelay,
		AttemptTimeout: cfg.CaptionTimeout,
	}, processor, jobs.WithLogger(log), jobs.WithMetrics(rec))
	queue.Start(rootCtx)
	defer queue.Stop()
	svc.SetCaptions(queue)

	httpClient := &http.Client{Timeout: cfg.PublishTimeout}
	pub := publisher.New(publisher.Deps{
		Content:         stores.Content,
		Accounts:        stores.Accounts,
		Registry:        platforms.Defaults(httpClient, cfg.FacebookGraphURL, cfg.TwitterAPIURL, cfg.LinkedInAPIURL),
		Notifier:        notifier,
		Events:          hub,
		Metrics:         rec,
		Logger:          log,
		Timeout:         cfg.PublishTimeout,
		ClaimStaleAfter: cfg.ClaimStaleAfter,
		Getenv:          d.getenv,
	})

	if cfg.TriggerEnabled {
		trigger := workers.NewPublishTrigger(workers.PublishTriggerConfig{
			Interval:  cfg.TriggerInterval,
			Lookback:  cfg.TriggerLookback,
			BatchSize: cfg.TriggerBatchSize,
		}, workers.PublishTriggerDeps{
			Content:    stores.Content,
			Watermarks: stores.Watermarks,
			Publisher:  pub,
			Metrics:    rec,
			Logger:     log,
		})
		trigger.Start(rootCtx)
		defer trigger.Stop()
	} else {
		log.WithField("env", "PUBLISH_TRIGGER_ENABLED").Info("[PublishTrigger] disabled")
	}

	cleanup := &workers.NotificationCleanupWorker{
		Store:         stores.Notifications,
		Schedule:      cfg.CleanupSchedule,
		ReadRetention: cfg.NotificationReadRetention,
		Location:      cfg.Location(),
		Logger:        log,
	}
	if err := cleanup.Start(rootCtx); err != nil {
		return err
	}
	defer cleanup.Stop()

	h := handlers.New(handlers.Deps{Content: svc, Publisher: pub, Notifications: notifier, Logger: log})
	r := buildRouter(h, hub, registry, cfg.InternalWSSecret)

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := resolvePort(d.getenv)
	shutdownTimeout := parseIntervalFromEnv(d.getenv, "SHUTDOWN_TIMEOUT_SECONDS", 5*time.Second)
	srv := &http.Server{
		Handler:      c.Handler(r),
		Addr:         ":" + port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Handle graceful shutdown on SIGINT/SIGTERM
	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-stop:
		case <-rootCtx.Done():
		}
		log.Info("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	log.WithField("port", port).Info("Server starting")
	if err := d.listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-shutdownDone
		return err
	}
	cancel()
	<-shutdownDone
	log.Info("Server stopped")
	return nil
}
