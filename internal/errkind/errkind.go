// Package errkind classifies upstream failures so callers can choose between
// credential rotation, quarantine, retry, and fallback.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the abstract failure category of an upstream error.
type Kind int

const (
	// Unknown is any error that does not match a known category.
	Unknown Kind = iota

	// RateLimit means a single credential or shard hit its quota. The
	// credential is quarantined until the next UTC midnight.
	RateLimit

	// AuthError means the credential was rejected (401/403). Permanent for
	// the process lifetime.
	AuthError

	// UpstreamTransient covers 5xx responses and timeouts. Retried with the
	// next credential.
	UpstreamTransient

	// Exhausted means every credential in a pool is unusable.
	Exhausted

	// Invalid marks a rejected request (bad input, empty article id).
	Invalid

	// Duplicate marks an idempotent no-op (job already queued).
	Duplicate
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case RateLimit:
		return "rate_limit"
	case AuthError:
		return "auth_error"
	case UpstreamTransient:
		return "upstream_transient"
	case Exhausted:
		return "exhausted_all_credentials"
	case Invalid:
		return "invalid"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Error is an error tagged with a Kind. It wraps the underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New wraps err with the given kind.
func New(kind Kind, err error) error {
	return &Error{Kind: kind, Cause: err}
}

// Newf creates a kinded error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Of returns the Kind of err, walking the wrap chain. Unknown if untagged.
func Of(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// FromStatus maps an HTTP status code to a Kind.
func FromStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthError
	case status >= http.StatusInternalServerError:
		return UpstreamTransient
	default:
		return Unknown
	}
}

// IsQuotaMessage reports whether an error message carries a provider-specific
// "limit exceeded" marker that does not surface as HTTP 429.
func IsQuotaMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"limit exceeded",
		"quota exceeded",
		"max requests limit",
		"daily request limit",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
