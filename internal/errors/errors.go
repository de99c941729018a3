// Package errors defines MirageKit's typed error kinds (spec §7): protocol,
// authentication, decode/encode, transport, resource, and timeout. Media-path
// failures (CRC, epoch, token, AEAD) are never routed through these types —
// per spec they are silent-with-counter — these are reserved for control
// channel, handshake, session and display-layer failures that must surface
// to a caller or terminate a connection.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// classMarker is implemented by every MirageKit error kind so callers can
// classify an error chain without a type switch per kind.
type classMarker interface {
	error
	kind() string
}

// ProtocolError covers malformed envelopes, unknown message types, invalid
// handshake ordering, and replay detection.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Op)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) kind() string  { return "protocol" }

// AuthenticationError covers bad signatures, unknown keys, expired
// timestamps, and nonce reuse.
type AuthenticationError struct {
	Op  string
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication error: %s", e.Op)
	}
	return fmt.Sprintf("authentication error: %s: %v", e.Op, e.Err)
}
func (e *AuthenticationError) Unwrap() error { return e.Err }
func (e *AuthenticationError) kind() string  { return "authentication" }

// CodecError covers hardware encode/decode session failures. It is not a
// disconnect cause. No code in this module constructs or handles one
// outside tests; the client does not switch to keyframe-only mode or send
// a recovery request on it.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec error: %s", e.Op)
	}
	return fmt.Sprintf("codec error: %s: %v", e.Op, e.Err)
}
func (e *CodecError) Unwrap() error { return e.Err }
func (e *CodecError) kind() string  { return "codec" }

// TransportError covers socket-level failures. Transient ones are tolerated
// within the control channel's grace window; fatal ones disconnect.
type TransportError struct {
	Op    string
	Err   error
	Fatal bool
}

func (e *TransportError) Error() string {
	tag := "transient"
	if e.Fatal {
		tag = "fatal"
	}
	if e.Err == nil {
		return fmt.Sprintf("transport error (%s): %s", tag, e.Op)
	}
	return fmt.Sprintf("transport error (%s): %s: %v", tag, e.Op, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) kind() string  { return "transport" }

// ResourceError covers display creation and space lookup failures.
// mirage-host ends the stream's connection when display acquisition fails;
// no caller in this module falls back to main-display capture.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resource error: %s", e.Op)
	}
	return fmt.Sprintf("resource error: %s: %v", e.Op, e.Err)
}
func (e *ResourceError) Unwrap() error { return e.Err }
func (e *ResourceError) kind() string  { return "resource" }

// TimeoutError indicates an operation exceeded a deadline (handshake, ping,
// resize acknowledgement).
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context
// deadline exceeded, or any error type exposing Timeout() bool == true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsProtocolError reports whether the error chain contains a ProtocolError.
func IsProtocolError(err error) bool { return hasKind(err, "protocol") }

// IsAuthenticationError reports whether the error chain contains an
// AuthenticationError.
func IsAuthenticationError(err error) bool { return hasKind(err, "authentication") }

// IsCodecError reports whether the error chain contains a CodecError.
func IsCodecError(err error) bool { return hasKind(err, "codec") }

// IsTransportError reports whether the error chain contains a TransportError,
// and if so whether it was marked fatal.
func IsTransportError(err error) (isTransport bool, fatal bool) {
	var te *TransportError
	if stdErrors.As(err, &te) {
		return true, te.Fatal
	}
	return false, false
}

// IsResourceError reports whether the error chain contains a ResourceError.
func IsResourceError(err error) bool { return hasKind(err, "resource") }

func hasKind(err error, k string) bool {
	if err == nil {
		return false
	}
	var cm classMarker
	if !stdErrors.As(err, &cm) {
		return false
	}
	return cm.kind() == k
}

// Constructors. Callers are encouraged to layer context with fmt.Errorf("...: %w", err).
func NewProtocolError(op string, cause error) error { return &ProtocolError{Op: op, Err: cause} }
func NewAuthenticationError(op string, cause error) error {
	return &AuthenticationError{Op: op, Err: cause}
}
func NewCodecError(op string, cause error) error { return &CodecError{Op: op, Err: cause} }
func NewTransportError(op string, cause error, fatal bool) error {
	return &TransportError{Op: op, Err: cause, Fatal: fatal}
}
func NewResourceError(op string, cause error) error { return &ResourceError{Op: op, Err: cause} }
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}
