// Package transport defines the datagram transport consumed by the session
// engine and by discovery. It is a thin abstraction over a UDP socket:
// open, send, a repeatable blocking receive, address resolution and close.
package transport

import (
	"context"
	"net"
	"time"
)

// State represents the current state of a transport.
type State int

const (
	// StateClosed indicates the socket is not open.
	StateClosed State = iota
	// StateOpen indicates the socket is open and usable.
	StateOpen
	// StateError indicates the transport hit an unrecoverable error.
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport is the narrow datagram interface the protocol engine depends
// on. Implementations must be safe for concurrent use: one goroutine may
// block in Receive while others Send, and Close must unblock a pending
// Receive.
type Transport interface {
	// Open binds the local socket.
	Open(ctx context.Context) error

	// Close releases the socket. Closing an already-closed transport is a
	// no-op. A goroutine blocked in Receive observes the closure and
	// returns net.ErrClosed.
	Close() error

	// IsOpen reports whether the socket is usable.
	IsOpen() bool

	// Send transmits one datagram to the given address.
	Send(ctx context.Context, data []byte, addr *net.UDPAddr) (int, error)

	// Receive blocks until one datagram arrives, the context deadline
	// expires, or the transport is closed. It may be called repeatedly.
	Receive(ctx context.Context) ([]byte, *net.UDPAddr, error)

	// Resolve turns a hostname and port into a sendable address.
	Resolve(host string, port int) (*net.UDPAddr, error)

	// Info returns runtime information about the transport.
	Info() Info
}

// Config holds transport configuration.
type Config struct {
	// ListenAddress is the local bind address. Empty means an ephemeral
	// port on all interfaces.
	ListenAddress string `yaml:"listen_address" json:"listen_address"`

	// Broadcast enables sending to broadcast addresses (discovery).
	Broadcast bool `yaml:"broadcast" json:"broadcast"`

	// ReadBufferSize is the datagram read buffer size.
	ReadBufferSize int `yaml:"read_buffer_size" json:"read_buffer_size"`

	// WriteTimeout bounds a single send.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// Info contains runtime information about a transport.
type Info struct {
	// LocalAddress is the bound local address, if open.
	LocalAddress string `json:"local_address,omitempty"`

	// State is the current transport state.
	State State `json:"state"`

	// Statistics contains transport counters.
	Statistics Statistics `json:"statistics"`

	// LastError is the last error observed, if any.
	LastError string `json:"last_error,omitempty"`
}

// Statistics contains transport counters.
type Statistics struct {
	// BytesSent is the total number of bytes sent.
	BytesSent uint64 `json:"bytes_sent"`

	// BytesReceived is the total number of bytes received.
	BytesReceived uint64 `json:"bytes_received"`

	// DatagramsSent is the total number of datagrams sent.
	DatagramsSent uint64 `json:"datagrams_sent"`

	// DatagramsReceived is the total number of datagrams received.
	DatagramsReceived uint64 `json:"datagrams_received"`

	// Errors is the total number of send/receive errors.
	Errors uint64 `json:"errors"`
}
