package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	Addr   string `envconfig:"ADDR" default:":8080"`
	AppEnv string `envconfig:"APP_ENV" default:"development"`

	DBDSN     string        `envconfig:"DB_DSN" required:"true"`
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTExpiry time.Duration `envconfig:"JWT_EXPIRY" default:"24h"`

	// RedisAddr enables cross-instance fan-out. Empty means local delivery only.
	RedisAddr    string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisChannel string `envconfig:"REDIS_CHANNEL" default:"helpboard-events"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	NotificationRetention time.Duration `envconfig:"NOTIFICATION_RETENTION" default:"720h"`
	PurgeSchedule         string        `envconfig:"PURGE_SCHEDULE" default:"@hourly"`

	// Inbound websocket frames per second per connection, and burst.
	WSRateLimit float64 `envconfig:"WS_RATE_LIMIT" default:"10"`
	WSRateBurst int     `envconfig:"WS_RATE_BURST" default:"20"`

	// Per-IP limit on /register and /login, requests per second and burst.
	AuthRateLimit float64 `envconfig:"AUTH_RATE_LIMIT" default:"1"`
	AuthRateBurst int     `envconfig:"AUTH_RATE_BURST" default:"5"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is fine; the environment is authoritative.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
