// Package discovery finds HVAC devices on the local network by
// broadcasting a scan and collecting the replies that arrive inside the
// scan window.
package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/protocol"
	"github.com/greelink/greelink/pkg/transport"
	"github.com/greelink/greelink/pkg/transport/udp"
)

// DeviceInfo describes one device that answered a scan.
type DeviceInfo struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Brand   string `json:"brand,omitempty" yaml:"brand,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	MAC     string `json:"mac,omitempty" yaml:"mac,omitempty"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

// Options holds scanner configuration.
type Options struct {
	// Broadcast is the address the scan is sent to.
	Broadcast string `yaml:"broadcast" json:"broadcast"`

	// Port is the device UDP port.
	Port int `yaml:"port" json:"port"`

	// Timeout is the scan window. Replies after it closes are missed.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	Logger *logger.Logger `yaml:"-" json:"-"`
}

// NewOptions returns scanner options with protocol defaults.
func NewOptions() *Options {
	return &Options{
		Broadcast: "255.255.255.255",
		Port:      protocol.DefaultPort,
		Timeout:   3 * time.Second,
	}
}

func (o *Options) withDefaults() *Options {
	def := NewOptions()
	out := *o
	if out.Broadcast == "" {
		out.Broadcast = def.Broadcast
	}
	if out.Port <= 0 {
		out.Port = def.Port
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.Logger == nil {
		out.Logger = logger.Global()
	}
	return &out
}

// Scanner broadcasts scans and aggregates device replies.
type Scanner struct {
	opts *Options
	log  *logger.Logger
	tr   transport.Transport
}

// New creates a scanner over a fresh broadcast-capable UDP transport.
func New(opts *Options) *Scanner {
	cfg := udp.DefaultConfig()
	cfg.Broadcast = true
	return NewWithTransport(opts, udp.NewTransport(cfg))
}

// NewWithTransport creates a scanner over the given transport.
func NewWithTransport(opts *Options, tr transport.Transport) *Scanner {
	o := opts.withDefaults()
	return &Scanner{
		opts: o,
		log:  o.Logger.With("component", "discovery"),
		tr:   tr,
	}
}

// Scan broadcasts one scan and returns every distinct device that replied
// within the scan window. Replies that cannot be decrypted or parsed are
// dropped.
func (s *Scanner) Scan(ctx context.Context) ([]DeviceInfo, error) {
	addr, err := s.tr.Resolve(s.opts.Broadcast, s.opts.Port)
	if err != nil {
		return nil, err
	}

	opened := false
	if !s.tr.IsOpen() {
		if err := s.tr.Open(ctx); err != nil {
			return nil, err
		}
		opened = true
	}
	if opened {
		defer s.tr.Close()
	}

	s.log.Debug("broadcasting scan", "address", addr.String())
	if _, err := s.tr.Send(ctx, []byte(`{"t":"scan"}`), addr); err != nil {
		return nil, err
	}

	window, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	seen := make(map[string]struct{})
	var found []DeviceInfo

	for {
		data, from, err := s.tr.Receive(window)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
				return found, nil
			}
			if window.Err() != nil {
				return found, nil
			}
			return found, err
		}

		info, ok := s.parseReply(data, from)
		if !ok {
			continue
		}
		if _, dup := seen[info.ID]; dup {
			continue
		}
		seen[info.ID] = struct{}{}
		found = append(found, info)
		s.log.Info("device discovered", "device", info.ID, "name", info.Name, "address", info.Address)
	}
}

func (s *Scanner) parseReply(data []byte, from *net.UDPAddr) (DeviceInfo, bool) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil || env.Pack == "" {
		return DeviceInfo{}, false
	}

	// Scan replies are always encrypted with the generic ECB key.
	suite := protocol.NewSuite()
	plaintext, err := suite.Decrypt(env)
	if err != nil {
		s.log.Debug("dropping undecryptable scan reply", "error", err)
		return DeviceInfo{}, false
	}

	payload, err := protocol.ParsePayload(plaintext)
	if err != nil || payload.Type != protocol.TypeDev {
		return DeviceInfo{}, false
	}

	id := payload.DeviceID()
	if id == "" {
		return DeviceInfo{}, false
	}

	info := DeviceInfo{
		ID:      id,
		Name:    payload.Name,
		Brand:   payload.Brand,
		Model:   payload.Model,
		Version: payload.Ver,
		MAC:     payload.MAC,
		Port:    s.opts.Port,
	}
	if from != nil {
		info.Address = from.IP.String()
	}
	return info, true
}
