package discovery

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/protocol"
	"github.com/greelink/greelink/pkg/transport"
)

type scanReply struct {
	data []byte
	from *net.UDPAddr
}

// fakeTransport answers the first sent datagram with a canned set of
// replies.
type fakeTransport struct {
	mu      sync.Mutex
	open    bool
	replies []scanReply
	out     chan scanReply
}

func (f *fakeTransport) Open(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	f.out = make(chan scanReply, len(f.replies)+1)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Send(_ context.Context, data []byte, _ *net.UDPAddr) (int, error) {
	for _, r := range f.replies {
		f.out <- r
	}
	return len(data), nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case r := <-f.out:
		return r.data, r.from, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (f *fakeTransport) Resolve(host string, port int) (*net.UDPAddr, error) {
	return &net.UDPAddr{IP: net.ParseIP(host), Port: port}, nil
}

func (f *fakeTransport) Info() transport.Info { return transport.Info{} }

func devReply(t *testing.T, id, name, ver string, ip string) scanReply {
	t.Helper()

	suite := protocol.NewSuite()
	enc, err := suite.Encrypt(map[string]interface{}{
		"t":     protocol.TypeDev,
		"cid":   id,
		"mac":   id,
		"name":  name,
		"brand": "gree",
		"ver":   ver,
	})
	if err != nil {
		t.Fatalf("encrypt dev reply: %v", err)
	}
	data, err := json.Marshal(protocol.NewEnvelope(1, enc))
	if err != nil {
		t.Fatalf("marshal dev reply: %v", err)
	}
	return scanReply{
		data: data,
		from: &net.UDPAddr{IP: net.ParseIP(ip), Port: protocol.DefaultPort},
	}
}

func testScannerOptions() *Options {
	o := NewOptions()
	o.Timeout = 200 * time.Millisecond
	o.Logger = logger.New(logger.Config{Level: "error"})
	return o
}

func TestScanCollectsDistinctDevices(t *testing.T) {
	tr := &fakeTransport{replies: []scanReply{
		devReply(t, "f4911e11bd2c", "living room", "V1.2.1", "192.168.1.50"),
		devReply(t, "a0b1c2d3e4f5", "bedroom", "V1.1.0", "192.168.1.51"),
		// Duplicate reply from the first device.
		devReply(t, "f4911e11bd2c", "living room", "V1.2.1", "192.168.1.50"),
	}}

	s := NewWithTransport(testScannerOptions(), tr)
	found, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(found) != 2 {
		t.Fatalf("Scan() found %d devices, want 2", len(found))
	}
	if found[0].ID != "f4911e11bd2c" || found[0].Address != "192.168.1.50" {
		t.Errorf("first device = %+v", found[0])
	}
	if found[0].Brand != "gree" || found[0].MAC != "f4911e11bd2c" {
		t.Errorf("first device identity = %+v", found[0])
	}
	if found[1].ID != "a0b1c2d3e4f5" || found[1].Name != "bedroom" {
		t.Errorf("second device = %+v", found[1])
	}
}

func TestScanIgnoresGarbageReplies(t *testing.T) {
	tr := &fakeTransport{replies: []scanReply{
		{data: []byte("not json"), from: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9)}},
		{data: []byte(`{"t":"pack","pack":"AAAA"}`), from: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9)}},
		devReply(t, "f4911e11bd2c", "living room", "V1.2.1", "192.168.1.50"),
	}}

	s := NewWithTransport(testScannerOptions(), tr)
	found, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("Scan() found %d devices, want 1", len(found))
	}
}

func TestScanEmptyWindow(t *testing.T) {
	s := NewWithTransport(testScannerOptions(), &fakeTransport{})
	found, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Scan() found %d devices, want 0", len(found))
	}
}
