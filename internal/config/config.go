package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	// DatabaseURL wins over MongoURI; with neither set the seeded in-memory
	// store is used.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	MongoURI      string `envconfig:"MONGODB_URI"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"kioskpos"`

	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	InventoryCacheTTL time.Duration `envconfig:"INVENTORY_CACHE_TTL" default:"20s"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	CommitMaxAttempts int    `envconfig:"COMMIT_MAX_ATTEMPTS" default:"5"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment take precedence over .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)

	if cfg.InventoryCacheTTL <= 0 {
		cfg.InventoryCacheTTL = 20 * time.Second
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	if cfg.CommitMaxAttempts < 1 {
		return Config{}, fmt.Errorf("load config: COMMIT_MAX_ATTEMPTS must be at least 1, got %d", cfg.CommitMaxAttempts)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
