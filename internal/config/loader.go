package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadFile returns the config file contents with any BOM removed and env
// vars expanded.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	return []byte(expandEnvVars(string(data))), nil
}

// LoadFile reads a JSON file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest interface{}) error {
	data, err := ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Load reads and validates the config file at path. Every failure is a
// *ConfigError.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadFile(path, cfg); err != nil {
		reason := "invalid JSON"
		var pathErr *os.PathError
		if errors.Is(err, os.ErrNotExist) {
			reason = "file not found"
		} else if errors.As(err, &pathErr) {
			reason = "unreadable"
		}
		return nil, &ConfigError{Path: path, Reason: reason, Err: err}
	}
	cfg.AuthOverride.TokenIn = strings.ToLower(strings.TrimSpace(cfg.AuthOverride.TokenIn))
	if err := validate(cfg); err != nil {
		return nil, &ConfigError{Path: path, Reason: "invalid config", Err: err}
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("provider #%d: empty name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if cfg.SelectedProvider != "" {
		if _, ok := seen[cfg.SelectedProvider]; !ok {
			return fmt.Errorf("selected_provider: %w", &NotFoundError{Kind: "provider", Name: cfg.SelectedProvider})
		}
	}
	for name, raw := range cfg.RequestOverrides {
		if !isJSONObject(raw) {
			return fmt.Errorf("request override %q: must be a JSON object", name)
		}
	}
	if cfg.ErrorThreshold < 0 {
		return fmt.Errorf("ERROR_THRESHOLD must be >= 0, got %d", cfg.ErrorThreshold)
	}
	switch cfg.Status.Persist {
	case "", PersistMemory, PersistRedis, PersistSQLite, PersistPostgres:
	default:
		return fmt.Errorf("status.persist: unknown policy %q", cfg.Status.Persist)
	}
	if err := validateAuthOverride(cfg, cfg.AuthOverride); err != nil {
		return fmt.Errorf("auth_override: %w", err)
	}
	return nil
}

// validateAuthOverride checks a against the presets declared in cfg.
func validateAuthOverride(cfg *Config, a AuthOverride) error {
	switch a.TokenIn {
	case "", TokenInNone, TokenInHeader, TokenInQuery, TokenInBoth:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTokenIn, a.TokenIn)
	}
	if a.HeaderOverride != "" {
		if _, ok := cfg.HeaderOverrides[a.HeaderOverride]; !ok {
			return &NotFoundError{Kind: "header_override", Name: a.HeaderOverride}
		}
	}
	if a.RequestOverride != "" {
		if _, ok := cfg.RequestOverrides[a.RequestOverride]; !ok {
			return &NotFoundError{Kind: "request_override", Name: a.RequestOverride}
		}
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
