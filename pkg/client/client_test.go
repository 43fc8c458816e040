package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/protocol"
	"github.com/greelink/greelink/pkg/rules"
	"github.com/greelink/greelink/pkg/transport"
)

// fakeTransport is an in-memory datagram pair: the test pushes device
// replies into inbound and reads client packets from sent.
type fakeTransport struct {
	mu      sync.Mutex
	open    bool
	inbound chan []byte
	sent    chan []byte
	closed  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		sent:    make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Open(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil
	}
	f.open = false
	close(f.closed)
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Send(_ context.Context, data []byte, _ *net.UDPAddr) (int, error) {
	if !f.IsOpen() {
		return 0, net.ErrClosed
	}
	f.sent <- append([]byte(nil), data...)
	return len(data), nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case data := <-f.inbound:
		return data, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: protocol.DefaultPort}, nil
	case <-f.closed:
		return nil, nil, net.ErrClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (f *fakeTransport) Resolve(host string, port int) (*net.UDPAddr, error) {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: port}, nil
}

func (f *fakeTransport) Info() transport.Info {
	return transport.Info{}
}

// deviceSim scripts a device on the far side of a fakeTransport.
type deviceSim struct {
	id          string
	sessionKey  string
	requireAEAD bool
	statusCols  []string
	statusDat   []interface{}
	// answerStatus decides whether the nth status request gets a reply.
	// Nil answers all of them.
	answerStatus func(n int) bool
}

func runDevice(t *testing.T, tr *fakeTransport, sim *deviceSim) {
	t.Helper()

	ecbGeneric := protocol.NewSuite()
	aeadGeneric := protocol.NewSuite()
	aeadGeneric.UseAEAD()
	var session *protocol.Suite
	statusCount := 0

	decrypt := func(env *protocol.Envelope) (*protocol.Payload, *protocol.Suite) {
		suites := []*protocol.Suite{}
		if session != nil {
			suites = append(suites, session)
		}
		suites = append(suites, aeadGeneric, ecbGeneric)
		for _, s := range suites {
			plaintext, err := s.Decrypt(env)
			if err != nil {
				continue
			}
			payload, err := protocol.ParsePayload(plaintext)
			if err != nil || payload.Type == "" {
				continue
			}
			return payload, s
		}
		return nil, nil
	}

	reply := func(s *protocol.Suite, payload map[string]interface{}) {
		enc, err := s.Encrypt(payload)
		if err != nil {
			t.Errorf("device encrypt failed: %v", err)
			return
		}
		data, err := json.Marshal(protocol.NewEnvelope(1, enc))
		if err != nil {
			t.Errorf("device marshal failed: %v", err)
			return
		}
		tr.inbound <- data
	}

	go func() {
		for {
			select {
			case <-tr.closed:
				return
			case data := <-tr.sent:
				env, err := protocol.ParseEnvelope(data)
				if err != nil {
					continue
				}
				if env.Type == protocol.TypeScan && env.Pack == "" {
					reply(ecbGeneric, map[string]interface{}{
						"t":    protocol.TypeDev,
						"cid":  sim.id,
						"name": "living room",
						"ver":  "V1.2.1",
					})
					continue
				}

				payload, used := decrypt(env)
				if payload == nil {
					continue
				}

				switch payload.Type {
				case protocol.TypeBind:
					if sim.requireAEAD && used == ecbGeneric {
						continue
					}
					session = protocol.NewSuite()
					if used == aeadGeneric {
						session.UseAEAD()
					}
					session.ApplyKey(sim.sessionKey)
					reply(used, map[string]interface{}{
						"t":   protocol.TypeBindOK,
						"mac": sim.id,
						"key": sim.sessionKey,
						"r":   200,
					})
				case protocol.TypeStatus:
					if used != session {
						t.Errorf("status request not encrypted under the session key")
						continue
					}
					statusCount++
					if sim.answerStatus != nil && !sim.answerStatus(statusCount) {
						continue
					}
					reply(session, map[string]interface{}{
						"t":    protocol.TypeDat,
						"mac":  sim.id,
						"cols": sim.statusCols,
						"dat":  sim.statusDat,
					})
				case protocol.TypeCmd:
					if used != session {
						t.Errorf("command not encrypted under the session key")
						continue
					}
					reply(session, map[string]interface{}{
						"t":   protocol.TypeRes,
						"mac": sim.id,
						"opt": payload.Opt,
						"val": payload.P,
					})
				}
			}
		}
	}()
}

func testOptions() *Options {
	o := NewOptions("192.168.1.50")
	o.ConnectTimeout = 2 * time.Second
	o.BindTimeout = 40 * time.Millisecond
	o.Poll = false
	o.PollingTimeout = 40 * time.Millisecond
	o.Logger = logger.New(logger.Config{Level: "error"})
	return o
}

func defaultSim() *deviceSim {
	return &deviceSim{
		id:         "f4911e11bd2c",
		sessionKey: "xgA91o545cc1qaab",
		statusCols: []string{"Pow", "Mod", "SetTem", "WdSpd", "TemSen"},
		statusDat:  []interface{}{1, 1, 22, 0, 62},
	}
}

func connectedClient(t *testing.T, opts *Options, sim *deviceSim) *Client {
	t.Helper()

	tr := newFakeTransport()
	runDevice(t, tr, sim)

	c := NewWithTransport(opts, tr)
	t.Cleanup(func() { c.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

func TestConnectBindsWithFirstCipher(t *testing.T) {
	sim := defaultSim()
	c := connectedClient(t, testOptions(), sim)

	if !c.IsConnected() {
		t.Error("IsConnected() = false after successful connect")
	}
	if got := c.DeviceID(); got != sim.id {
		t.Errorf("DeviceID() = %q, want %q", got, sim.id)
	}
	if got := c.DeviceName(); got != "living room" {
		t.Errorf("DeviceName() = %q, want %q", got, "living room")
	}
}

func TestBindFallsBackToAEAD(t *testing.T) {
	sim := defaultSim()
	sim.requireAEAD = true
	c := connectedClient(t, testOptions(), sim)

	if !c.IsConnected() {
		t.Error("IsConnected() = false after AEAD fallback")
	}
}

func TestStatusUpdatesCache(t *testing.T) {
	updates := make(chan DeviceStatus, 4)

	tr := newFakeTransport()
	runDevice(t, tr, defaultSim())

	c := NewWithTransport(testOptions(), tr)
	t.Cleanup(func() { c.Disconnect() })
	c.OnStatusUpdate(func(s DeviceStatus) { updates <- s })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case s := <-updates:
		if s.Power == nil || !*s.Power {
			t.Error("Power not reported as on")
		}
		if s.Mode == nil || *s.Mode != protocol.ModeCool {
			t.Errorf("Mode = %v, want %q", s.Mode, protocol.ModeCool)
		}
		if s.Temperature == nil || *s.Temperature != 22 {
			t.Errorf("Temperature = %v, want 22", s.Temperature)
		}
		if s.FanSpeed == nil || *s.FanSpeed != protocol.FanSpeedAuto {
			t.Errorf("FanSpeed = %v, want %q", s.FanSpeed, protocol.FanSpeedAuto)
		}
		if s.CurrentTemperature == nil || *s.CurrentTemperature != 22 {
			t.Errorf("CurrentTemperature = %v, want 22", s.CurrentTemperature)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status update after connect")
	}

	props := c.Properties()
	if props[protocol.PropertyPower] != protocol.ValueOn {
		t.Errorf("cached power = %v, want %q", props[protocol.PropertyPower], protocol.ValueOn)
	}
}

func TestCommandAcknowledgementMergesCache(t *testing.T) {
	updates := make(chan DeviceStatus, 4)

	c := connectedClient(t, testOptions(), defaultSim())
	c.OnStatusUpdate(func(s DeviceStatus) { updates <- s })

	on := true
	lights := false
	err := c.Control(context.Background(), &DeviceControl{Power: &on, Lights: &lights})
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-updates:
			if s.Power != nil && *s.Power && s.Lights != nil && !*s.Lights {
				return
			}
		case <-deadline:
			t.Fatal("acknowledgement never reflected in the cache")
		}
	}
}

func TestControlRequiresConnection(t *testing.T) {
	c := NewWithTransport(testOptions(), newFakeTransport())

	on := true
	err := c.Control(context.Background(), &DeviceControl{Power: &on})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Control() error = %v, want ErrNotConnected", err)
	}
}

func TestStrictEnforcementRejectsViolations(t *testing.T) {
	opts := testOptions()
	opts.Enforcement = rules.EnforceStrict
	c := NewWithTransport(opts, newFakeTransport())

	mode := protocol.ModeHeat
	blow := true
	err := c.Control(context.Background(), &DeviceControl{Mode: &mode, Blow: &blow})

	var verr *rules.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Control() error = %v, want ValidationError", err)
	}
	if len(verr.Violations) != 1 || verr.Violations[0].Feature != "blow" {
		t.Errorf("violations = %v, want single blow violation", verr.Violations)
	}
}

func TestWarnEnforcementSendsAnyway(t *testing.T) {
	c := connectedClient(t, testOptions(), defaultSim())

	mode := protocol.ModeHeat
	blow := true
	if err := c.Control(context.Background(), &DeviceControl{Mode: &mode, Blow: &blow}); err != nil {
		t.Errorf("Control() under warn enforcement error = %v", err)
	}
}

func TestDisconnectResolvesPendingConnect(t *testing.T) {
	tr := newFakeTransport()
	// No device on the far side: the connect can never finish.
	c := NewWithTransport(testOptions(), tr)

	result := make(chan error, 1)
	go func() {
		result <- c.Connect(context.Background())
	}()

	// Let the connect get underway before tearing down.
	select {
	case <-tr.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("no scan observed")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("Connect() error = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending connect never resolved")
	}

	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v, want nil", err)
	}
}

func TestStatusTimeoutClearsCache(t *testing.T) {
	noResponse := make(chan struct{}, 4)

	opts := testOptions()
	opts.Poll = true
	opts.PollingInterval = 60 * time.Millisecond

	sim := defaultSim()
	sim.answerStatus = func(n int) bool { return n == 1 }

	c := connectedClient(t, opts, sim)
	c.OnNoResponse(func() { noResponse <- struct{}{} })

	select {
	case <-noResponse:
	case <-time.After(3 * time.Second):
		t.Fatal("no-response callback never fired")
	}

	if props := c.Properties(); len(props) != 0 {
		t.Errorf("cache not cleared after status timeout: %v", props)
	}
}

func TestFeatureAvailabilityFollowsCurrentMode(t *testing.T) {
	c := connectedClient(t, testOptions(), defaultSim())

	// Wait for the initial status so the cached mode is cool.
	deadline := time.Now().Add(2 * time.Second)
	for c.Status().Mode == nil {
		if time.Now().After(deadline) {
			t.Fatal("mode never cached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !c.IsFeatureAvailable("blow") {
		t.Error("blow unavailable in cool mode")
	}
	features := c.AvailableFeatures()
	if len(features) == 0 {
		t.Error("no features reported for cool mode")
	}
}

func TestConnectWhileConnectedIsNoOp(t *testing.T) {
	c := connectedClient(t, testOptions(), defaultSim())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Errorf("Connect() on bound session error = %v", err)
	}
}
