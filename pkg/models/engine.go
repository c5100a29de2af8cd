package models

import (
	"errors"
	"fmt"
)

// EngineKind identifies the backend a step executes against.
type EngineKind string

const (
	EnginePostgres EngineKind = "postgres"
	EngineRedis    EngineKind = "redis"
	EngineHTTP     EngineKind = "http"
)

var ErrUnknownEngine = errors.New("unknown engine kind")

// EngineConfig is a tagged variant: Kind selects which connection struct is
// populated. Exactly one variant must be set and it must match Kind, so the
// executor can dispatch with an exhaustive switch instead of probing string
// tags at runtime.
type EngineConfig struct {
	Kind     EngineKind      `json:"kind"               validate:"required"`
	Postgres *PostgresConfig `json:"postgres,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`
}

// PostgresConfig holds connection parameters for a PostgreSQL engine.
type PostgresConfig struct {
	DSN string `json:"dsn" validate:"required"`
}

// RedisConfig holds connection parameters for a Redis engine.
type RedisConfig struct {
	Addr     string `json:"addr" validate:"required"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// HTTPConfig holds connection parameters for an HTTP data source.
type HTTPConfig struct {
	BaseURL string            `json:"base_url" validate:"required,url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Validate checks that the populated variant matches Kind.
func (c EngineConfig) Validate() error {
	switch c.Kind {
	case EnginePostgres:
		if c.Postgres == nil || c.Postgres.DSN == "" {
			return fmt.Errorf("engine %s: missing postgres connection config", c.Kind)
		}
	case EngineRedis:
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("engine %s: missing redis connection config", c.Kind)
		}
	case EngineHTTP:
		if c.HTTP == nil || c.HTTP.BaseURL == "" {
			return fmt.Errorf("engine %s: missing http connection config", c.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.Kind)
	}

	return nil
}
