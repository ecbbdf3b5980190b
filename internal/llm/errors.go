package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionError means a provider was unreachable or the request timed out.
// Timeout distinguishes a deadline expiry from other transport failures.
type ConnectionError struct {
	Provider string
	Endpoint string
	Timeout  bool
	Cause    error
}

func (e *ConnectionError) Error() string {
	kind := "connection"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s error calling provider %s at %s: %v", kind, e.Provider, e.Endpoint, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// APIError is a non-2xx response from a provider, carrying the upstream
// error message for logging. The message must never be shown to end users.
type APIError struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s returned %d on %s: %s", e.Provider, e.StatusCode, e.Endpoint, e.Message)
}

// ParseError means a provider response did not match the expected schema.
type ParseError struct {
	Provider string
	Detail   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("provider %s response did not match expected shape: %s", e.Provider, e.Detail)
}

// ProtocolError means the model's reply violated the closed ask/final JSON
// contract. It is surfaced to the caller and never retried automatically.
type ProtocolError struct {
	Detail string
	Raw    string
}

func (e *ProtocolError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("model reply violated dialog protocol: %s (raw: %q)", e.Detail, raw)
}

// SchemaError means a well-formed final query was semantically empty or
// invalid after validation. Terminal, not retried.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("query failed validation: %s", e.Detail)
}

// ConfigError is a fatal misconfiguration: no chat provider registered,
// missing credentials. Not recoverable without operator intervention.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider configuration error: %s", e.Detail)
}

// UnavailableError means a capability could not be served after probing the
// designated provider (chat) or the whole fallback chain (embeddings).
type UnavailableError struct {
	Capability string
	Attempted  []string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no provider available for %s (attempted: %s)",
		e.Capability, strings.Join(e.Attempted, ", "))
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Timeout
	}
	return false
}

// classifyTransportError wraps a transport-level failure, marking deadline
// expiry as a timeout.
func classifyTransportError(provider, endpoint string, err error) *ConnectionError {
	timeout := false
	if t, ok := err.(interface{ Timeout() bool }); ok && t.Timeout() {
		timeout = true
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		timeout = true
	}
	return &ConnectionError{Provider: provider, Endpoint: endpoint, Timeout: timeout, Cause: err}
}

// pingDeadline is the probe budget, shorter than any request timeout.
const pingDeadline = 5 * time.Second
