package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every runtime setting, populated from the environment
// (optionally seeded from a .env file).
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"countrybattle"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	NATSURL        string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	StreamUsername string `env:"STREAM_USERNAME"`
	GiftPointsFile string `env:"GIFT_POINTS_FILE"`

	BattleDurationSeconds int      `env:"BATTLE_DURATION_SECONDS" envDefault:"300"`
	DefaultCountries      []string `env:"DEFAULT_COUNTRIES" envSeparator:"," envDefault:"Turkey,Saudi Arabia,Egypt,Pakistan"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info().
		Str("port", cfg.Port).
		Str("db", fmt.Sprintf("%s@%s:%d/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)).
		Str("nats_url", cfg.NATSURL).
		Int("battle_duration_seconds", cfg.BattleDurationSeconds).
		Strs("default_countries", cfg.DefaultCountries).
		Msg("configuration loaded")
	return cfg, nil
}

// DSN returns the Postgres connection URL.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// BattleDuration returns the default battle length.
func (c *Config) BattleDuration() time.Duration {
	return time.Duration(c.BattleDurationSeconds) * time.Second
}
