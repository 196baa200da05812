package config

import (
	"encoding/json"
	"time"
)

// Config is the durable configuration as declared in the config file.
// Key names follow the file format operators already use, hence the mix of
// upper-case and snake_case.
type Config struct {
	Host           string   `json:"HOST"`
	Port           int      `json:"PORT"`
	APIKey         string   `json:"APIKEY"`
	Log            *bool    `json:"LOG,omitempty"`
	LogLevel       string   `json:"LOG_LEVEL"`
	LogFormat      string   `json:"LOG_FORMAT"`
	ErrorThreshold int      `json:"ERROR_THRESHOLD"`
	TokenParam     string   `json:"TOKEN_PARAM"`
	APITimeoutMS   int      `json:"API_TIMEOUT_MS"`
	ProxyPaths     []string `json:"PROXY_PATHS"`

	SelectedProvider string                       `json:"selected_provider"`
	Providers        []Provider                   `json:"Providers"`
	HeaderOverrides  map[string]map[string]string `json:"HeaderOverrides"`
	RequestOverrides map[string]json.RawMessage   `json:"RequestOverrides"`
	EnvModels        map[string]string            `json:"env-models"`
	AuthOverride     AuthOverride                 `json:"auth_override"`

	Discovery DiscoveryConfig `json:"discovery"`
	Tests     TestsConfig     `json:"tests"`
	Status    StatusConfig    `json:"status"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type DiscoveryConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	Filter         string `json:"filter"`
	RefreshOnStart bool   `json:"refresh_on_start"`
}

func (d DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

type TestsConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	Schedule       string `json:"schedule"`
}

func (t TestsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// StatusConfig selects where runtime provider status is kept.
type StatusConfig struct {
	Persist   string `json:"persist"`
	DSN       string `json:"dsn"`
	KeyPrefix string `json:"key_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Persistence policies for StatusConfig.Persist.
const (
	PersistMemory   = "memory"
	PersistRedis    = "redis"
	PersistSQLite   = "sqlite"
	PersistPostgres = "postgres"
)

// LoggingEnabled reports whether LOG is unset or true.
func (c *Config) LoggingEnabled() bool {
	return c.Log == nil || *c.Log
}

// UpstreamTimeout bounds the wait for upstream response headers on the proxy
// path. Zero means no bound.
func (c *Config) UpstreamTimeout() time.Duration {
	if c.APITimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.APITimeoutMS) * time.Millisecond
}

// Provider looks up a provider by name.
func (c *Config) Provider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

func DefaultConfig() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Port:           3456,
		LogLevel:       "info",
		LogFormat:      "json",
		ErrorThreshold: 3,
		TokenParam:     "token",
		APITimeoutMS:   600000,
		ProxyPaths:     []string{"/v1/messages"},
		Discovery: DiscoveryConfig{
			TimeoutSeconds: 30,
		},
		Tests: TestsConfig{
			TimeoutSeconds: 30,
			Prompt:         "hi",
			MaxTokens:      100,
		},
		Status: StatusConfig{
			Persist:   PersistMemory,
			KeyPrefix: "ccproxy:status:",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
