package types

import (
	"errors"
	"fmt"
)

// Sentinel causes wrapped by the error types below. Match them with errors.Is.
var (
	ErrBindFailed       = errors.New("bind failed")
	ErrBootstrapTimeout = errors.New("bootstrap timeout")
	ErrNotRunning       = errors.New("transport not running")
	ErrStopped          = errors.New("transport stopped")
	ErrPeerUnreachable  = errors.New("peer unreachable")
	ErrWriteFailed      = errors.New("write failed")
	ErrReadFailed       = errors.New("read failed")

	ErrDecrypt      = errors.New("decryption failed")
	ErrBadSignature = errors.New("bad signature")

	ErrMalformedFrame   = errors.New("malformed frame")
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrUnexpectedTag    = errors.New("unexpected message tag")
	ErrNotEstablished   = errors.New("session not established")
	ErrUnknownContact   = errors.New("unknown contact")
	ErrContactBlocked   = errors.New("contact blocked")
	ErrKeyMismatch      = errors.New("peer key does not match contact")
	ErrNoPendingRequest = errors.New("no pending request")
)

// TransportError reports a bind, connect, read or write failure.
type TransportError struct {
	Op    string
	Onion OnionAddress
	Err   error
}

func (e *TransportError) Error() string {
	if e.Onion != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Onion, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CryptoError reports a frame that could not be opened or verified.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return fmt.Sprintf("crypto %s: %v", e.Op, e.Err) }

func (e *CryptoError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed frame or a tag that does not fit the session stage.
type ProtocolError struct {
	Tag byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol (tag 0x%02x): %v", e.Tag, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServiceError reports a start/stop lifecycle failure.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string { return fmt.Sprintf("service %s: %v", e.Op, e.Err) }

func (e *ServiceError) Unwrap() error { return e.Err }
