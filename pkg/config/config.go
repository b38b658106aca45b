package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	HTTP struct {
		Port int
	}
	OSRM struct {
		BaseURL string
		Profile string
		Timeout time.Duration
	}
	Auth struct {
		JWTSecret string
		TokenTTL  time.Duration
	}
	Planner struct {
		RefreshInterval time.Duration
	}
	// Tracking throttles location updates: Burst fixes at once, then one
	// per FixInterval.
	Tracking struct {
		FixInterval time.Duration
		Burst       int
	}
	Log struct {
		Level string
	}
}

// LoadConfig reads filename into the environment (a missing file is fine)
// and builds a Config from environment variables with defaults.
func LoadConfig(filename string) (*Config, error) {
	if filename != "" {
		if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not load env file: %w", err)
		}
	}

	cfg := &Config{}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "runroute_user")
	cfg.DB.Password = getEnv("DB_PASS", "runroute_pass")
	cfg.DB.Database = getEnv("DB_NAME", "runroute_db")
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")
	cfg.HTTP.Port = getEnvAsInt("HTTP_PORT", 3000)
	cfg.OSRM.BaseURL = getEnv("OSRM_BASE_URL", "https://router.project-osrm.org")
	cfg.OSRM.Profile = getEnv("OSRM_PROFILE", "foot")
	cfg.OSRM.Timeout = getEnvAsDuration("OSRM_TIMEOUT", 10*time.Second)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "dev-secret-change-me")
	cfg.Auth.TokenTTL = getEnvAsDuration("JWT_TTL", time.Hour)
	cfg.Planner.RefreshInterval = getEnvAsDuration("ROUTE_REFRESH_INTERVAL", 30*time.Second)
	cfg.Tracking.FixInterval = getEnvAsDuration("LOCATION_FIX_INTERVAL", 200*time.Millisecond)
	cfg.Tracking.Burst = getEnvAsInt("LOCATION_BURST", 10)
	cfg.Log.Level = getEnv("LOG_LEVEL", "INFO")

	return cfg, nil
}

// DatabaseURL returns the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Database)
}

// MigrationURL is DatabaseURL under the scheme golang-migrate's pgx driver
// registers.
func (c *Config) MigrationURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Database)
}

// RabbitMQURL returns the AMQP dial string.
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil && value > 0 {
		return value
	}
	return fallback
}
