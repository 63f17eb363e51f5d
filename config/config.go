package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config is loaded from the environment; a local .env file is honored
// when present.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`
	Env  string `envconfig:"ENV" default:"development"`

	JWTSecret    string        `envconfig:"JWT_SECRET" default:"dev-secret-change-in-production"`
	HostTokenTTL time.Duration `envconfig:"HOST_TOKEN_TTL" default:"24h"`

	CodeAttempts     int           `envconfig:"CODE_ATTEMPTS" default:"20"`
	HeartbeatTimeout time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"30s"`
	ReconnectGrace   time.Duration `envconfig:"RECONNECT_GRACE" default:"2m"`
	RoomIdleTimeout  time.Duration `envconfig:"ROOM_IDLE_TIMEOUT" default:"1h"`
	SendBuffer       int           `envconfig:"SEND_BUFFER" default:"256"`

	// Optional sidecars; empty values disable them.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	MirrorTTL     time.Duration `envconfig:"MIRROR_TTL" default:"2h"`
	DatabaseURL   string        `envconfig:"DATABASE_URL"`

	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"*"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// NewLogger builds the process logger: JSON in production, console
// output in development.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// InitDB opens the results archive database. Returns nil without error
// when DATABASE_URL is unset; archiving is optional.
func InitDB(cfg *Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// InitRedis builds the room mirror client. Returns nil when REDIS_ADDR
// is unset; mirroring is optional.
func InitRedis(cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
}
