// Package protoerr defines the error vocabulary shared by the sender and
// receiver engines: sentinel errors for conditions every engine can hit,
// and a FatalError wrapper for violations that end a connection rather
// than just dropping one segment.
package protoerr

import "errors"

var (
	// ErrNotConnected is returned when an operation requires an
	// established connection but none exists yet.
	ErrNotConnected = errors.New("protoerr: not connected")

	// ErrClosed is returned when an operation is attempted on an engine
	// that has already completed its close sequence.
	ErrClosed = errors.New("protoerr: connection closed")

	// ErrHandshakeTimeout is returned when a SYN or FIN handshake
	// exhausts its retry budget without a matching reply.
	ErrHandshakeTimeout = errors.New("protoerr: handshake timed out")

	// ErrUnexpectedSegment flags a segment whose type cannot occur in
	// the engine's current state. It is reported wrapped in a
	// FatalError built by FatalSegment.
	ErrUnexpectedSegment = errors.New("protoerr: unexpected segment")
)

// FatalError represents a protocol violation severe enough that the
// engine that observed it must abandon the connection: a non-ACK
// segment arriving on a link where only ACKs are ever expected, or a
// FIN whose sequence number does not match the receiver's rcv_base.
// Unlike a dropped or corrupt datagram, a FatalError is never retried
// away.
type FatalError struct {
	msg     string
	wrapped error
}

func (e *FatalError) Error() string { return e.msg }

// Unwrap exposes the sentinel a FatalError was constructed from, if
// any, so errors.Is(err, ErrUnexpectedSegment) succeeds on a
// FatalSegment error without weakening IsFatal's errors.As check.
func (e *FatalError) Unwrap() error { return e.wrapped }

// Fatalf constructs a FatalError. It does not perform formatting beyond
// that provided by callers; this mirrors the engines' own log helpers,
// which already carry structured fields.
func Fatalf(msg string) *FatalError { return &FatalError{msg: msg} }

// FatalSegment constructs a FatalError wrapping ErrUnexpectedSegment,
// for the reject paths in the engines' dispatch switches: a segment
// type that cannot occur in the current state.
func FatalSegment(msg string) *FatalError { return &FatalError{msg: msg, wrapped: ErrUnexpectedSegment} }

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
