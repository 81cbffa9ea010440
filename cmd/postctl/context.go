package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/PortNumber53/social-scheduler/internal/config"
	"github.com/PortNumber53/social-scheduler/internal/database"
	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/publisher"
	"github.com/PortNumber53/social-scheduler/internal/publisher/platforms"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/PortNumber53/social-scheduler/internal/store/memstore"
	"github.com/PortNumber53/social-scheduler/internal/store/postgres"
	"github.com/sirupsen/logrus"
)

// environment is the process boundary of the CLI. Tests swap the store opener for a
// prepared memstore.
type environment struct {
	getenv      func(string) string
	openDB      func(dsn string) (*sql.DB, error)
	newMigrator func(*sql.DB) (database.Migrator, error)
	openStores  func(cfg *config.Config, openDB func(string) (*sql.DB, error)) (store.Stores, func(), error)
}

func defaultEnvironment() environment {
	return environment{
		getenv:      os.Getenv,
		openDB:      database.Open,
		newMigrator: database.NewMigrator,
		openStores:  openStores,
	}
}

func openStores(cfg *config.Config, openDB func(string) (*sql.DB, error)) (store.Stores, func(), error) {
	if cfg.StoreDriver == "memory" {
		return memstore.New().Stores(), func() {}, nil
	}
	if openDB == nil {
		return store.Stores{}, nil, errors.New("openDB is not configured")
	}
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return store.Stores{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return store.Stores{}, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return postgres.New(db), func() { _ = db.Close() }, nil
}

type commandContext struct {
	env environment

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(env environment) *commandContext {
	if env.getenv == nil {
		env.getenv = os.Getenv
	}
	if env.openStores == nil {
		env.openStores = openStores
	}
	return &commandContext{env: env}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(c.env.getenv)
	})
	return c.config, c.configErr
}

// logger writes to w so command output on stdout stays machine readable.
func (c *commandContext) logger(w io.Writer) *logrus.Entry {
	cfg, _ := c.ensureConfig()
	format, level := "text", "info"
	if cfg != nil {
		format, level = cfg.LogFormat, cfg.LogLevel
	}
	l := logging.New(format, level)
	l.SetOutput(w)
	return logging.WithService(l, "postctl")
}

// withStores opens the configured stores for the duration of fn.
func (c *commandContext) withStores(fn func(cfg *config.Config, stores store.Stores) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	stores, closeStores, err := c.env.openStores(cfg, c.env.openDB)
	if err != nil {
		return err
	}
	defer closeStores()
	return fn(cfg, stores)
}

func (c *commandContext) newPublisher(cfg *config.Config, stores store.Stores, log logrus.FieldLogger) *publisher.Publisher {
	notifier := notify.New(stores.Notifications, notify.WithTTL(cfg.NotificationTTL), notify.WithLogger(log))
	httpClient := &http.Client{Timeout: cfg.PublishTimeout}
	return publisher.New(publisher.Deps{
		Content:         stores.Content,
		Accounts:        stores.Accounts,
		Registry:        platforms.Defaults(httpClient, cfg.FacebookGraphURL, cfg.TwitterAPIURL, cfg.LinkedInAPIURL),
		Notifier:        notifier,
		Logger:          log,
		Timeout:         cfg.PublishTimeout,
		ClaimStaleAfter: cfg.ClaimStaleAfter,
		Getenv:          c.env.getenv,
	})
}
