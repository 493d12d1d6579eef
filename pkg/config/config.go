// Package config loads the proxy's runtime configuration from the
// environment, following the same NewConfig/os.Getenv-with-fallback
// shape each provider in the teacher's pkg/providers package uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func ServerConfigFromEnv() (ServerConfig, error) {
	cfg := ServerConfig{
		ListenAddr:      getEnvDefault("LUNAROUTE_LISTEN_ADDR", ":8080"),
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute, // streaming responses can run long
		ShutdownTimeout: 10 * time.Second,
	}
	if v := os.Getenv("LUNAROUTE_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("config: LUNAROUTE_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.ReadTimeout = time.Duration(d) * time.Second
	}
	return cfg, nil
}

// UpstreamConfig configures the egress transport to one upstream provider.
type UpstreamConfig struct {
	Name              string
	BaseURL           string
	APIKey            string
	Dialect           string // "anthropic" or "openai"
	RequestsPerSecond float64
	Burst             int
}

// NewUpstreamConfig mirrors the provider pattern: an explicit apiKey wins,
// otherwise fall back to the provider-named environment variable.
func NewUpstreamConfig(name, dialect, baseURL, apiKey string) (UpstreamConfig, error) {
	if apiKey == "" {
		apiKey = os.Getenv(envKeyFor(name))
	}
	if apiKey == "" {
		return UpstreamConfig{}, fmt.Errorf("config: %s API key is required; set %s or provide it directly", name, envKeyFor(name))
	}
	if baseURL == "" {
		return UpstreamConfig{}, fmt.Errorf("config: %s base URL is required", name)
	}
	return UpstreamConfig{
		Name:              name,
		BaseURL:           baseURL,
		APIKey:            apiKey,
		Dialect:           dialect,
		RequestsPerSecond: 0, // unlimited by default
		Burst:             0,
	}, nil
}

func (c UpstreamConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: API key is required for upstream %q", c.Name)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base URL is required for upstream %q", c.Name)
	}
	if c.Dialect != "anthropic" && c.Dialect != "openai" {
		return fmt.Errorf("config: unsupported dialect %q for upstream %q", c.Dialect, c.Name)
	}
	return nil
}

func envKeyFor(name string) string {
	return fmt.Sprintf("LUNAROUTE_%s_API_KEY", upperSnake(name))
}

func upperSnake(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// SessionConfig controls the session recording pipeline.
type SessionConfig struct {
	Enabled       bool
	QueueCapacity int

	JSONLDir           string
	JSONLCacheSize     int
	EncryptionPassword string

	SQLitePath string

	PostgresURL      string
	PostgresTenantID string
}

func SessionConfigFromEnv() (SessionConfig, error) {
	cfg := SessionConfig{
		Enabled:            getEnvDefault("LUNAROUTE_SESSIONS_ENABLED", "true") == "true",
		QueueCapacity:      4096,
		JSONLDir:           os.Getenv("LUNAROUTE_JSONL_DIR"),
		JSONLCacheSize:     100,
		EncryptionPassword: os.Getenv("LUNAROUTE_SESSION_ENCRYPTION_PASSWORD"),
		SQLitePath:         os.Getenv("LUNAROUTE_SQLITE_PATH"),
		PostgresURL:        os.Getenv("LUNAROUTE_POSTGRES_URL"),
		PostgresTenantID:   os.Getenv("LUNAROUTE_POSTGRES_TENANT_ID"),
	}
	if cfg.PostgresURL != "" && cfg.PostgresTenantID == "" {
		return SessionConfig{}, fmt.Errorf("config: LUNAROUTE_POSTGRES_TENANT_ID is required when LUNAROUTE_POSTGRES_URL is set")
	}
	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
