package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port string `env:"PORT" envDefault:"5250"`

		// Origins allowed by the CORS middleware
		AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

		LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	}

	Database struct {
		Path string `env:"DATABASE_PATH" envDefault:"database/realty.db"`

		// Upper bound for the durable cache table, in bytes. Zero disables the check.
		CacheQuotaBytes int64 `env:"DATABASE_CACHE_QUOTA_BYTES" envDefault:"5242880"`
	}

	Remote struct {
		BaseURL string        `env:"REMOTE_BASE_URL" envDefault:"http://localhost:54321"`
		APIKey  string        `env:"REMOTE_API_KEY"`
		Table   string        `env:"REMOTE_TABLE" envDefault:"properties"`
		Timeout time.Duration `env:"REMOTE_TIMEOUT" envDefault:"10s"`

		// Polling budget while waiting for the remote store to answer
		ReadyRetries  int           `env:"REMOTE_READY_RETRIES" envDefault:"10"`
		ReadyInterval time.Duration `env:"REMOTE_READY_INTERVAL" envDefault:"500ms"`
	}

	Cache struct {
		DefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
		Namespace  string        `env:"CACHE_NAMESPACE" envDefault:"realty:kv:"`
	}

	Query struct {
		StaleTime time.Duration `env:"QUERY_STALE_TIME" envDefault:"1m"`
		GCTime    time.Duration `env:"QUERY_GC_TIME" envDefault:"30m"`
		Namespace string        `env:"QUERY_NAMESPACE" envDefault:"realty:query:"`

		// Minimum data age before a focus/reconnect signal refetches a key
		MinRefetchAge time.Duration `env:"QUERY_MIN_REFETCH_AGE" envDefault:"30s"`
	}

	View struct {
		ItemsPerPage   int           `env:"VIEW_ITEMS_PER_PAGE" envDefault:"12"`
		SearchDebounce time.Duration `env:"VIEW_SEARCH_DEBOUNCE" envDefault:"300ms"`
		SessionTTL     time.Duration `env:"VIEW_SESSION_TTL" envDefault:"30m"`

		// Optional JSON file overriding the building categories and room types
		CategoriesPath string `env:"VIEW_CATEGORIES_PATH"`
	}

	Sync struct {
		// Loads finishing closer together than this are short-circuited
		MinInterval     time.Duration `env:"SYNC_MIN_INTERVAL" envDefault:"2s"`
		RefreshInterval time.Duration `env:"SYNC_REFRESH_INTERVAL" envDefault:"5m"`
		PurgeInterval   time.Duration `env:"SYNC_PURGE_INTERVAL" envDefault:"10m"`
	}

	// Mirror configures the last-known-good listing copy kept in sqlite
	Mirror struct {
		Enabled    bool          `env:"MIRROR_ENABLED" envDefault:"true"`
		MaxRetries int           `env:"MIRROR_MAX_RETRIES" envDefault:"3"`
		RetryDelay time.Duration `env:"MIRROR_RETRY_DELAY" envDefault:"1s"`
	}
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.View.ItemsPerPage <= 0 {
		return nil, fmt.Errorf("VIEW_ITEMS_PER_PAGE must be positive, got %d", cfg.View.ItemsPerPage)
	}
	return cfg, nil
}
