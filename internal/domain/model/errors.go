package model

import (
	"errors"
	"fmt"
)

// Sentinel errors checked with errors.Is across package boundaries.
var (
	// ErrNotFound indicates the requested credential does not exist.
	ErrNotFound = errors.New("credential not found")

	// ErrUnknownService indicates a service name absent from the catalog.
	ErrUnknownService = errors.New("unknown service")

	// ErrInvalidState indicates an OAuth state parameter that was never
	// issued, already consumed, or past its TTL. Callers cannot tell which;
	// all three read the same from outside.
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrStateMismatch indicates a state that was issued for a different
	// service than the one completing the flow.
	ErrStateMismatch = errors.New("oauth state does not match service")

	// ErrDecryptFailed indicates sealed payload bytes that cannot be opened
	// with the current key, from tampering or a key change.
	ErrDecryptFailed = errors.New("credential payload cannot be decrypted")
)

// ConfigError is a startup configuration problem. It is fatal: components
// refuse construction rather than run half-configured.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// ValidationError rejects malformed caller input, such as missing required
// credential fields.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// ProviderError is a failed call to a provider's token endpoint. Op is
// "exchange" or "refresh"; ProviderMsg carries the provider's own error
// description when one was returned.
type ProviderError struct {
	Op          string
	Service     string
	StatusCode  int
	ProviderMsg string
}

func (e *ProviderError) Error() string {
	if e.ProviderMsg != "" {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Service, e.Op, e.StatusCode, e.ProviderMsg)
	}
	return fmt.Sprintf("%s %s failed (status %d)", e.Service, e.Op, e.StatusCode)
}

// DecryptionError identifies which stored credential failed to decrypt. It
// wraps ErrDecryptFailed so callers can match either the type or the
// sentinel.
type DecryptionError struct {
	ID  string
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("credential %s: %v", e.ID, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
