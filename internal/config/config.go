// Package config provides gateway configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds rpc-gateway configuration.
type Config struct {
	// HTTP listener (e.g. "0.0.0.0:8080") and the prefix all routes mount under.
	HTTPAddr string `envconfig:"GATEWAY_HTTP_ADDR" default:"0.0.0.0:8080"`
	BasePath string `envconfig:"GATEWAY_BASE_PATH" default:"/api"`

	// Request handling
	MaxBodyBytes   int64         `envconfig:"GATEWAY_MAX_BODY_BYTES" default:"1048576"`
	RequestTimeout time.Duration `envconfig:"GATEWAY_REQUEST_TIMEOUT" default:"25s"`

	// NATS: procedure calls go out over NATSURL.
	NATSURL  string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	NATSName string `envconfig:"SERVICE_NAME" default:"rpc-gateway"`

	// Definition source: Postgres when DATABASE_URL is set, manifest file otherwise.
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	ProceduresFile string `envconfig:"GATEWAY_PROCEDURES_FILE"`

	// Error event publishing (empty = disabled)
	ErrorEventSubject string `envconfig:"GATEWAY_ERROR_EVENT_SUBJECT"`

	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the gateway server.
// BasePath is normalized here: a trailing slash is trimmed, so "/api/"
// and "/api" mount identically and "/" means the root.
func (c *Config) ValidateForServe() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%s - GATEWAY_MAX_BODY_BYTES must be positive", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - GATEWAY_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	c.BasePath = strings.TrimRight(c.BasePath, "/")
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("%s - GATEWAY_BASE_PATH must start with /", logPrefix)
	}
	if c.DatabaseURL == "" && c.ProceduresFile == "" {
		return fmt.Errorf("%s - one of DATABASE_URL or GATEWAY_PROCEDURES_FILE is required for serve", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (init-db, seed, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
