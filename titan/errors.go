package titan

import (
	"errors"
	"fmt"
)

var (
	// ErrNonASCII indicates that a command contains characters outside the single-byte ASCII range.
	ErrNonASCII = errors.New("titan: command contains non-ASCII characters")

	// ErrFrameTooLarge indicates that an encoded frame would not fit the 16-bit length field.
	ErrFrameTooLarge = errors.New("titan: frame exceeds maximum length")

	// ErrGroupOutOfRange indicates that a preset group number is outside [1, 99].
	ErrGroupOutOfRange = errors.New("titan: group number out of range [1, 99]")

	// ErrPresetOutOfRange indicates that a preset number is outside [1, 14].
	ErrPresetOutOfRange = errors.New("titan: preset number out of range [1, 14]")
)

// Parse failures. They are always returned wrapped in a *ParseError.
var (
	// ErrShortFrame indicates that fewer bytes than the minimum frame size were received.
	ErrShortFrame = errors.New("titan: short frame")

	// ErrBadMagic indicates that the frame does not start with the expected magic header.
	ErrBadMagic = errors.New("titan: bad magic header")

	// ErrUnknownHandshake indicates a handshake response with an unknown status byte.
	ErrUnknownHandshake = errors.New("titan: unknown handshake status")

	// ErrChecksumMismatch indicates that the trailing checksum of a host frame is wrong.
	ErrChecksumMismatch = errors.New("titan: checksum mismatch")

	// ErrLengthMismatch indicates that the length field does not match the frame size.
	ErrLengthMismatch = errors.New("titan: length field mismatch")
)

var (
	// ErrHandshakeRejected indicates that the device refused the session because its
	// connection limit (3 concurrent sessions) has been reached.
	ErrHandshakeRejected = errors.New("titan: handshake rejected, connection limit reached")

	// ErrHandshakeTimeout indicates that the device did not send a handshake in time.
	ErrHandshakeTimeout = errors.New("titan: handshake timeout")

	// ErrNotConnected indicates that a frame was not sent because the connection is not
	// in the connected state.
	ErrNotConnected = errors.New("titan: not connected")

	// ErrConnClosed indicates that the connection was closed by the peer.
	ErrConnClosed = errors.New("titan: connection closed")

	// ErrInvalidTransition is returned when an attempt is made to transition the connection
	// state to an invalid state.
	ErrInvalidTransition = errors.New("titan: invalid state transition")

	// ErrConnConfigNil indicates that a nil connection config was provided.
	ErrConnConfigNil = errors.New("titan: connection config is nil")
)

// ParseError reports a malformed inbound frame. The frame is discarded and the
// connection stays open.
type ParseError struct {
	// Err is one of ErrShortFrame, ErrBadMagic, ErrUnknownHandshake, ErrChecksumMismatch
	// or ErrLengthMismatch.
	Err error
	// Len is the number of bytes that were inspected or discarded.
	Len int
}

func newParseError(err error, n int) *ParseError {
	return &ParseError{Err: err, Len: n}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (%d bytes)", e.Err.Error(), e.Len)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError reports a socket-level failure. It is fatal to the current connection.
type TransportError struct {
	// Op is the socket operation that failed: "dial", "read" or "write".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "titan: transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
