// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	DBURL    string `mapstructure:"DB_URL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	GithubToken  string `mapstructure:"GITHUB_TOKEN"`
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`
	EmbedModel   string `mapstructure:"EMBED_MODEL"`

	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`
	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	RetentionInterval time.Duration `mapstructure:"RETENTION_INTERVAL"`
	RetentionAge      time.Duration `mapstructure:"RETENTION_AGE"`

	RepoConcurrency int           `mapstructure:"REPO_CONCURRENCY"`
	WorkerCount     int           `mapstructure:"WORKER_COUNT"`
	BatchSize       int           `mapstructure:"BATCH_SIZE"`
	MaxRetries      int           `mapstructure:"MAX_RETRIES"`
	RetryBaseDelay  time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	StuckAfter      time.Duration `mapstructure:"STUCK_AFTER"`
	DrainMaxWait    time.Duration `mapstructure:"DRAIN_MAX_WAIT"`

	ChunkLines   int `mapstructure:"CHUNK_LINES"`
	ChunkOverlap int `mapstructure:"CHUNK_OVERLAP"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("EMBED_MODEL", "gemini-embedding-001")
	viper.SetDefault("SYNC_INTERVAL", "15m")
	viper.SetDefault("SWEEP_INTERVAL", "1m")
	viper.SetDefault("RETENTION_INTERVAL", "1h")
	viper.SetDefault("RETENTION_AGE", "720h")
	viper.SetDefault("REPO_CONCURRENCY", 5)
	viper.SetDefault("WORKER_COUNT", 4)
	viper.SetDefault("BATCH_SIZE", 20)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_BASE_DELAY", "5s")
	viper.SetDefault("STUCK_AFTER", "10m")
	viper.SetDefault("DRAIN_MAX_WAIT", "30s")
	viper.SetDefault("CHUNK_LINES", 80)
	viper.SetDefault("CHUNK_OVERLAP", 10)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is a required configuration field")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("BATCH_SIZE must be positive")
	}
	if cfg.WorkerCount <= 0 {
		return nil, errors.New("WORKER_COUNT must be positive")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("MAX_RETRIES must not be negative")
	}

	return &cfg, nil
}
