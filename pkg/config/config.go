package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration for the deployment orchestrator.
type Config struct {
	Environment   string `env:"APP_ENV" envDefault:"development"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"postgres://agents:agents@db:5432/agents?sslmode=disable"`
	MigrationsDir string `env:"DB_MIGRATIONS_DIR" envDefault:"db/migrations"`

	TaskStore     string `env:"TASK_STORE" envDefault:"postgres"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"agentdeploy.db"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RegistryBackend string `env:"REGISTRY_BACKEND" envDefault:"http"`
	RegistryURL     string `env:"REGISTRY_URL" envDefault:"http://registry:8080"`
	LineageURL      string `env:"LINEAGE_URL" envDefault:"http://lineage:8080"`
	GatewayURL      string `env:"GATEWAY_URL" envDefault:"http://gateway:8080"`
	PolicyURL       string `env:"POLICY_URL" envDefault:"http://policy:8080"`
	ServiceToken    string `env:"SERVICE_TOKEN"`
	RemoteTimeout   int    `env:"REMOTE_TIMEOUT_SECONDS" envDefault:"30"`

	DockerHost   string `env:"DOCKER_HOST" envDefault:"unix:///var/run/docker.sock"`
	RuntimeImage string `env:"RUNTIME_IMAGE" envDefault:"agentdeploy/agent-runtime:latest"`

	JWTSecret         string `env:"JWT_SECRET" envDefault:"supersecuresecret"`
	ResourceURLPrefix string `env:"RESOURCE_URL_PREFIX" envDefault:"agents://"`
	PublicGrantee     string `env:"PUBLIC_GRANTEE" envDefault:"public"`
	BulkConcurrency   int    `env:"BULK_CONCURRENCY" envDefault:"4"`

	PushgatewayURL string `env:"PUSHGATEWAY_URL"`
}

// Load constructs a Config from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// RemoteTimeoutDuration is the per-request timeout applied to collaborator calls.
func (c Config) RemoteTimeoutDuration() time.Duration {
	if c.RemoteTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RemoteTimeout) * time.Second
}

// Level maps LogLevel onto a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
