package publisher

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured   = errors.New("publisher not configured")
	ErrTransport       = errors.New("publisher transport failure")
	ErrTimeout         = errors.New("publisher request timeout")
	ErrInvalidResponse = errors.New("platform returned invalid response")
	ErrCircuitOpen     = errors.New("publisher circuit open")
)

// maxRawBody bounds how much of a platform response is kept on an error.
const maxRawBody = 2048

// PlatformError is returned when the remote platform rejects a post or
// cannot be reached. StatusCode is zero for transport failures.
type PlatformError struct {
	StatusCode int
	RawBody    string
	Cause      error
}

func (e *PlatformError) Error() string {
	if e.StatusCode != 0 {
		if e.Cause != nil {
			return fmt.Sprintf("platform status %d: %v", e.StatusCode, e.Cause)
		}
		return fmt.Sprintf("platform rejected post with status %d: %s", e.StatusCode, e.RawBody)
	}
	return fmt.Sprintf("platform call failed: %v", e.Cause)
}

func (e *PlatformError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure looks transient: rate limiting,
// server errors, timeouts and transport failures.
func (e *PlatformError) Retryable() bool {
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	return e.StatusCode == 0 && (errors.Is(e.Cause, ErrTimeout) || errors.Is(e.Cause, ErrTransport))
}

// ConfigurationError means the publisher is missing credentials or other
// required settings. It is raised before any network call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotConfigured, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrNotConfigured }

func truncateBody(b []byte) string {
	if len(b) > maxRawBody {
		return string(b[:maxRawBody])
	}
	return string(b)
}
