// Package udp provides the UDP implementation of the datagram transport.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/greelink/greelink/pkg/transport"
)

// Common errors.
var (
	ErrNotOpen = errors.New("transport not open")
)

// DefaultConfig returns a default UDP configuration.
func DefaultConfig() transport.Config {
	return transport.Config{
		ReadBufferSize: 2048,
		WriteTimeout:   time.Second,
	}
}

// Transport implements transport.Transport over a UDP socket.
type Transport struct {
	mu sync.RWMutex

	config transport.Config

	conn      *net.UDPConn
	state     transport.State
	stats     transport.Statistics
	lastError error

	readBuffer []byte
}

// NewTransport creates a new UDP transport from config. Zero-value fields
// fall back to defaults.
func NewTransport(config transport.Config) *Transport {
	def := DefaultConfig()
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = def.ReadBufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}

	return &Transport{
		config:     config,
		state:      transport.StateClosed,
		readBuffer: make([]byte, config.ReadBufferSize),
	}
}

// Open binds the local socket. Opening an already-open transport is a
// no-op.
func (t *Transport) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == transport.StateOpen {
		return nil
	}

	laddr, err := net.ResolveUDPAddr("udp", t.listenAddress())
	if err != nil {
		t.state = transport.StateError
		t.lastError = err
		return fmt.Errorf("resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.state = transport.StateError
		t.lastError = err
		return fmt.Errorf("bind udp socket: %w", err)
	}

	t.conn = conn
	t.state = transport.StateOpen
	return nil
}

func (t *Transport) listenAddress() string {
	if t.config.ListenAddress == "" {
		return ":0"
	}
	return t.config.ListenAddress
}

// Close releases the socket and unblocks a pending Receive.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != transport.StateOpen {
		return nil
	}

	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	t.state = transport.StateClosed
	return err
}

// IsOpen reports whether the socket is usable.
func (t *Transport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == transport.StateOpen
}

// Send transmits one datagram to the given address.
func (t *Transport) Send(_ context.Context, data []byte, addr *net.UDPAddr) (int, error) {
	t.mu.RLock()
	conn := t.conn
	open := t.state == transport.StateOpen
	timeout := t.config.WriteTimeout
	t.mu.RUnlock()

	if !open || conn == nil {
		return 0, ErrNotOpen
	}

	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	n, err := conn.WriteToUDP(data, addr)
	t.mu.Lock()
	if err != nil {
		t.stats.Errors++
		t.lastError = err
	} else {
		t.stats.BytesSent += uint64(n)
		t.stats.DatagramsSent++
	}
	t.mu.Unlock()

	return n, err
}

// Receive blocks until one datagram arrives. The context deadline, if any,
// bounds the wait; closing the transport unblocks it with net.ErrClosed.
func (t *Transport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	t.mu.RLock()
	conn := t.conn
	open := t.state == transport.StateOpen
	t.mu.RUnlock()

	if !open || conn == nil {
		return nil, nil, ErrNotOpen
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	n, addr, err := conn.ReadFromUDP(t.readBuffer)
	if err != nil {
		t.mu.Lock()
		// Closure is an expected way to end a receive loop, not an error.
		if !errors.Is(err, net.ErrClosed) {
			t.stats.Errors++
			t.lastError = err
		}
		t.mu.Unlock()
		return nil, nil, err
	}

	data := make([]byte, n)
	copy(data, t.readBuffer[:n])

	t.mu.Lock()
	t.stats.BytesReceived += uint64(n)
	t.stats.DatagramsReceived++
	t.mu.Unlock()

	return data, addr, nil
}

// Resolve turns a hostname and port into a sendable UDP address.
func (t *Transport) Resolve(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	return addr, nil
}

// Info returns runtime information about the transport.
func (t *Transport) Info() transport.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := transport.Info{
		State:      t.state,
		Statistics: t.stats,
	}
	if t.conn != nil {
		info.LocalAddress = t.conn.LocalAddr().String()
	}
	if t.lastError != nil {
		info.LastError = t.lastError.Error()
	}
	return info
}
