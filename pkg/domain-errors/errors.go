// Package domainerrors defines the error taxonomy shared by all services.
// Stores return infrastructure sentinels (pkg/platform/sentinel); services
// translate them into coded domain errors; the HTTP layer maps codes to
// statuses. Client-caused failures and retryable infrastructure failures get
// distinct codes so callers can tell them apart.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks malformed input: bad fingerprint format, wrong
	// vector dimension, missing fields. Always rejected before side effects.
	CodeValidation Code = "validation_error"
	// CodeConflict marks operations aborted without partial state change:
	// duplicate fingerprint, Sybil match, already-revoked, reused nonce.
	CodeConflict Code = "conflict"
	// CodeNotFound marks an unknown fingerprint or pending request.
	CodeNotFound Code = "not_found"
	// CodeNotOwner marks a signature that does not verify under the record
	// owner's key.
	CodeNotOwner Code = "not_owner"
	// CodeReplay marks a stale timestamp or reused nonce. Kept separate from
	// CodeNotOwner because remediation differs: clock skew vs. forgery.
	CodeReplay Code = "replay_detected"
	// CodeIntegrity marks a hash-chain verification failure. Non-fatal to
	// live serving but surfaced with the exact broken index.
	CodeIntegrity Code = "integrity_error"
	// CodeUnavailable marks storage or registry unreachable. During token
	// verification this resolves to a denial, never an approval.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks unexpected server-side failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error with optional structured metadata, e.g. the
// matched fingerprint on a Sybil rejection or the broken index on a chain
// verification failure.
type Error struct {
	Code    Code
	Message string
	Meta    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error while preserving
// the chain for errors.Is / errors.As.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithMeta returns a copy of the error carrying an extra metadata field.
func (e *Error) WithMeta(key string, value any) *Error {
	meta := make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	return &Error{Code: e.Code, Message: e.Message, Meta: meta, cause: e.cause}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// outside the taxonomy.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
