// Package config loads gateway settings from an optional YAML file and
// SAPPHIR_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use "__",
// e.g. SAPPHIR_UPSTREAM__MAX_TOKENS.
const EnvPrefix = "SAPPHIR_"

// DefaultPath is read when present; a missing file is not an error.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	OCR       OCRConfig       `koanf:"ocr"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes"`
}

type UpstreamConfig struct {
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	APIKey      string        `koanf:"api_key"` // supports ${VAR}
}

type SessionsConfig struct {
	DefaultKey    string        `koanf:"default_key"`
	IdleTTL       time.Duration `koanf:"idle_ttl"` // 0 keeps sessions for the process lifetime
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type OCRConfig struct {
	Languages  []string `koanf:"languages"`
	Extensions []string `koanf:"extensions"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // none, memory, sqlite
	Memory MemoryConfig `koanf:"memory"`
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type MemoryConfig struct {
	MaxRecords int `koanf:"max_records"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.port":                5000,
	"server.request_timeout":     "30s",
	"server.max_upload_bytes":    10 << 20,
	"upstream.base_url":          "https://api.deepseek.com/v1",
	"upstream.model":             "deepseek-chat",
	"upstream.temperature":       0.2,
	"upstream.max_tokens":        150,
	"upstream.timeout":           "10s",
	"upstream.api_key":           "${DEEPSEEK_API_KEY}",
	"sessions.default_key":       "default_user",
	"sessions.idle_ttl":          "0s",
	"sessions.sweep_interval":    "1m",
	"ocr.languages":              []string{"por", "eng"},
	"ocr.extensions":             []string{".png", ".jpg", ".jpeg"},
	"storage.type":               "memory",
	"storage.memory.max_records": 1000,
	"storage.sqlite.path":        "sapphir.db",
	"telemetry.enabled":          false,
	"log.level":                  "info",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads path (if present) and the environment. Environment values
// override the file, which overrides the built-in defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Upstream.APIKey = substituteEnvVars(cfg.Upstream.APIKey)
	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)

	return &cfg, nil
}

// Validate reports settings the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		errs = append(errs, errors.New("upstream.api_key is empty (set DEEPSEEK_API_KEY)"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}
	if c.Upstream.MaxTokens < 0 {
		errs = append(errs, errors.New("upstream.max_tokens must not be negative"))
	}
	if c.Sessions.IdleTTL < 0 {
		errs = append(errs, errors.New("sessions.idle_ttl must not be negative"))
	}
	switch c.Storage.Type {
	case "", "none":
	case "memory":
		if c.Storage.Memory.MaxRecords < 0 {
			errs = append(errs, errors.New("storage.memory.max_records must not be negative"))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required for sqlite storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not one of none, memory, sqlite", c.Storage.Type))
	}
	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
