package gateway

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownPersona is returned when a persona id is not in the
	// persona table. Not retried.
	ErrUnknownPersona = errors.New("unknown persona")

	// ErrUnsupportedProvider is returned when a settings update names a
	// provider outside the supported set. Not retried.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrAllProvidersUnavailable is returned when every candidate in the
	// failover chain failed or was rate limited. Terminal for the
	// request; callers may retry later.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
)

// Failure reasons recorded by the usage accountant. Rate-limited
// rejections are tagged distinctly so they stay diagnosable apart from
// provider errors.
const (
	ReasonProviderError = "provider_error"
	ReasonRateLimited   = "rate_limited"
)

// ProviderError reports a transport-level failure from one specific
// provider: timeout, connection error, non-2xx status, or a response
// the gateway could not parse.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RateLimitError reports that the fixed-window quota for one
// (caller, provider) pair is exhausted.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}
