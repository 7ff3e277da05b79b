// Package lcerr is the error taxonomy shared by the engine, dispatcher and
// transports (§7). Every engine failure is a *lcerr.Error so the wire layer
// can map it to the stable {code, message} envelope without guesswork.
package lcerr

import "fmt"

// Kind is the wire-stable error code family from §7.
type Kind string

const (
	VersionMismatch   Kind = "version_mismatch"
	BadHandshake      Kind = "bad_handshake"
	CryptoFailure     Kind = "crypto_failure"
	Timeout           Kind = "timeout"
	Unauthorized      Kind = "unauthorized"
	InvalidState      Kind = "invalid_state"
	ValidationFailed  Kind = "validation_failed"
	NotFound          Kind = "not_found"
	Forbidden         Kind = "forbidden"
	Conflict          Kind = "conflict"
	RateLimited       Kind = "rate_limited"
	FrameTooLarge     Kind = "frame_too_large"
	Unsupported       Kind = "unsupported"
	InternalErrorKind Kind = "internal_error"
)

// closeOnWire reports whether an error of this Kind closes the connection
// (true) or is simply replied to while the connection stays open (false),
// per the propagation column of §7's table.
var closeOnWire = map[Kind]bool{
	VersionMismatch: true,
	BadHandshake:    true,
	CryptoFailure:   true,
	Timeout:         true,
	FrameTooLarge:   true,
}

// CloseConnection reports whether an error of this kind should terminate
// the connection once the reply (if any) has been sent.
func (k Kind) CloseConnection() bool { return closeOnWire[k] }

// Error is the engine/transport error type. Message is safe to show to the
// client; Cause is for logs only and is never serialized.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying an underlying cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Internal is shorthand for an internal_error that never leaks cause
// details to the client (§7: "reply, do not leak details").
func Internal(cause error) *Error {
	return &Error{Kind: InternalErrorKind, Message: "internal error", Cause: cause}
}

func (k Kind) f(msg string) *Error { return New(k, msg) }

func NotFoundErr(msg string) *Error          { return NotFound.f(msg) }
func ForbiddenErr(msg string) *Error         { return Forbidden.f(msg) }
func ConflictErr(msg string) *Error          { return Conflict.f(msg) }
func ValidationFailedErr(msg string) *Error  { return ValidationFailed.f(msg) }
func UnauthorizedErr(msg string) *Error      { return Unauthorized.f(msg) }
func InvalidStateErr(msg string) *Error      { return InvalidState.f(msg) }
func RateLimitedErr(msg string) *Error       { return RateLimited.f(msg) }
func UnsupportedErr(msg string) *Error       { return Unsupported.f(msg) }
