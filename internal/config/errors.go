package config

import (
	"errors"
	"fmt"
)

// ErrInvalidTokenIn is returned for a token_in outside none|header|query|both.
var ErrInvalidTokenIn = errors.New("invalid token_in")

// ConfigError reports a config file that cannot be used: missing, unparsable
// or internally inconsistent.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NotFoundError reports a name that does not resolve in the current config.
type NotFoundError struct {
	Kind string // provider, header_override, request_override
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}
