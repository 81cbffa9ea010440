// Package config reads process configuration from the environment (after godotenv has
// loaded any .env file). Values are read once at startup and treated as immutable.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	// Storage
	StoreDriver   string // "postgres" or "memory"
	DatabaseURL   string
	RunMigrations bool

	// Server
	Port               string
	PublicOrigin       string
	CORSAllowedOrigins []string
	InternalWSSecret   string

	// Logging
	LogFormat string
	LogLevel  string

	// Scheduling
	DefaultTimezone string

	// Publish trigger
	TriggerEnabled   bool
	TriggerInterval  time.Duration
	TriggerLookback  time.Duration
	TriggerBatchSize int
	ClaimStaleAfter  time.Duration

	// Publisher
	PublishTimeout   time.Duration
	FacebookGraphURL string
	TwitterAPIURL    string
	LinkedInAPIURL   string

	// Caption queue
	QueueMaxRetries     int
	QueueBaseDelay      time.Duration
	CaptionServiceURL   string
	CaptionServiceToken string
	CaptionTimeout      time.Duration

	// Notifications
	NotificationTTL           time.Duration
	NotificationReadRetention time.Duration
	CleanupSchedule           string
}

// Load reads the configuration through getenv (os.Getenv in production).
func Load(getenv func(string) string) (*Config, error) {
	e := env(getenv)
	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(e.getString("STORE_DRIVER", "postgres"))
	cfg.DatabaseURL = e.getString("DATABASE_URL", "")
	cfg.RunMigrations = e.getBool("RUN_MIGRATIONS", true)

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q (must be 'postgres' or 'memory')", cfg.StoreDriver)
	}

	cfg.Port = e.getString("PORT", "18911")
	cfg.PublicOrigin = e.getString("PUBLIC_ORIGIN", "")
	cfg.CORSAllowedOrigins = e.getList("CORS_ALLOWED_ORIGINS", []string{"*"})
	cfg.InternalWSSecret = e.getString("INTERNAL_WS_SECRET", "")

	cfg.LogFormat = e.getString("LOG_FORMAT", "text")
	cfg.LogLevel = e.getString("LOG_LEVEL", "info")

	cfg.DefaultTimezone = e.getString("DEFAULT_TIMEZONE", "UTC")
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}

	cfg.TriggerEnabled = e.getBool("PUBLISH_TRIGGER_ENABLED", true)
	cfg.TriggerInterval = e.getDuration("PUBLISH_TRIGGER_INTERVAL", time.Minute)
	cfg.TriggerLookback = e.getDuration("PUBLISH_TRIGGER_LOOKBACK", 5*time.Minute)
	cfg.TriggerBatchSize = e.getInt("PUBLISH_TRIGGER_BATCH_SIZE", 25)
	cfg.ClaimStaleAfter = e.getDuration("PUBLISH_CLAIM_STALE_AFTER", 10*time.Minute)

	cfg.PublishTimeout = e.getDuration("PUBLISH_TIMEOUT", 30*time.Second)
	cfg.FacebookGraphURL = e.getString("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v18.0")
	cfg.TwitterAPIURL = e.getString("TWITTER_API_URL", "https://api.twitter.com")
	cfg.LinkedInAPIURL = e.getString("LINKEDIN_API_URL", "https://api.linkedin.com")

	cfg.QueueMaxRetries = e.getInt("CAPTION_QUEUE_MAX_RETRIES", 3)
	cfg.QueueBaseDelay = e.getDuration("CAPTION_QUEUE_BASE_DELAY", 5*time.Second)
	cfg.CaptionServiceURL = e.getString("CAPTION_SERVICE_URL", "")
	cfg.CaptionServiceToken = e.getString("CAPTION_SERVICE_TOKEN", "")
	cfg.CaptionTimeout = e.getDuration("CAPTION_TIMEOUT", 60*time.Second)

	cfg.NotificationTTL = e.getDuration("NOTIFICATION_TTL", 30*24*time.Hour)
	cfg.NotificationReadRetention = e.getDuration("NOTIFICATION_READ_RETENTION", 24*time.Hour)
	cfg.CleanupSchedule = e.getString("NOTIFICATION_CLEANUP_SCHEDULE", "@every 1h")

	return cfg, nil
}

// Location returns the default scheduling timezone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type env func(string) string

func (e env) getString(key, def string) string {
	if e == nil {
		return def
	}
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return def
}

func (e env) getInt(key string, def int) int {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return def
	}
	return i
}

func (e env) getBool(key string, def bool) bool {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getDuration accepts Go duration strings ("90s", "5m") or bare integers as seconds.
func (e env) getDuration(key string, def time.Duration) time.Duration {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return def
		}
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (e env) getList(key string, def []string) []string {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	out := make([]string, 0)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
