package server

import (
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrLegacyForwardingUnsupported rejects the bungee forwarding method, which carries no proof of origin
	ErrLegacyForwardingUnsupported = errors.New("legacy (bungee) forwarding is not supported")
	// ErrForwardingNotAcknowledged is returned when a backend completes login without requesting forwarding data
	ErrForwardingNotAcknowledged = errors.New("backend completed login without requesting forwarding data")
	// ErrOnlineModeBackend is returned when a backend asks the proxy to authenticate with Mojang
	// ErrIdentityNotForwarded is returned when a client behind an upstream proxy declines the forwarding request
	ErrIdentityNotForwarded = errors.New("client did not forward an identity, it must connect through the upstream proxy")
	ErrOnlineModeBackend = errors.New("backend requested encryption, it must run in offline mode behind the proxy")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// ConfigError reports an invalid or unsupported configuration. It is fatal to the operation
// that discovered it and must be surfaced to the operator.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Err)
	}
	return fmt.Sprintf("configuration error at %s: %s", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func newConfigError(field string, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Err: errors.Errorf(format, args...)}
}

// ConnectError reports that a backend could not be reached at all
type ConnectError struct {
	ServerId string
	Address  string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to connect to server %s at %s: %s", e.ServerId, e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ForwardingError reports a failure while building or exchanging the signed forwarding data
type ForwardingError struct {
	Op  string
	Err error
}

func (e *ForwardingError) Error() string {
	return fmt.Sprintf("forwarding failed during %s: %s", e.Op, e.Err)
}

func (e *ForwardingError) Unwrap() error {
	return e.Err
}

// DisconnectedError is returned when a backend refused the login with a disconnect
type DisconnectedError struct {
	ServerId string
	// Reason is the JSON text component sent by the backend
	Reason string
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("server %s disconnected during login: %s", e.ServerId, e.Reason)
}

// IsOrdinaryDisconnect reports whether err is the expected result of a peer going away
// rather than a fault worth warning about.
func IsOrdinaryDisconnect(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
