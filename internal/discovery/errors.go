package discovery

import (
	"fmt"
	"time"
)

// TimeoutError is returned when the models request does not finish in time.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("[%s] model discovery timed out after %s", e.Provider, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AuthError is returned for 401 and 403 responses.
type AuthError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("[%s] model discovery unauthorized (HTTP %d): %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPError covers transport failures (StatusCode 0) and any other non-2xx
// response.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("[%s] model discovery request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("[%s] model discovery returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// ParseError is returned when the response is not a usable model list.
type ParseError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Outcome classifies err for metrics and status reporting.
func Outcome(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *TimeoutError:
		return "timeout"
	case *AuthError:
		return "auth_error"
	case *ParseError:
		return "parse_error"
	case *HTTPError:
		return "http_error"
	default:
		return "error"
	}
}
