// Package client implements the device session: scan, cipher-negotiating
// bind, status polling and control commands over a datagram transport.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/metrics"
	"github.com/greelink/greelink/pkg/protocol"
	"github.com/greelink/greelink/pkg/rules"
	"github.com/greelink/greelink/pkg/transport"
	"github.com/greelink/greelink/pkg/transport/udp"
)

// SessionState represents the current state of a device session.
type SessionState int

const (
	// StateDisconnected means no session is active.
	StateDisconnected SessionState = iota
	// StateScanning means a scan was broadcast and the client is waiting
	// for the device to identify itself.
	StateScanning
	// StateBinding means a bind request is outstanding.
	StateBinding
	// StateBound means the session key is established and the device
	// accepts commands.
	StateBound
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateBinding:
		return "binding"
	case StateBound:
		return "bound"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by operations that require a bound
	// session.
	ErrNotConnected = errors.New("client is not connected to the device")

	// ErrDisconnected resolves a pending connect when Disconnect is
	// called before the session binds.
	ErrDisconnected = errors.New("client disconnected while connecting")
)

// connectAttempt is the outcome of one Connect call chain. It resolves
// exactly once no matter how many paths race to finish it.
type connectAttempt struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{done: make(chan struct{})}
}

func (a *connectAttempt) resolve(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Client is a session with one HVAC device. All state transitions are
// serialized on an internal mutex; the property cache is independently
// locked so status reads never contend with the session machinery.
type Client struct {
	opts        *Options
	log         *logger.Logger
	tr          transport.Transport
	transformer *protocol.Transformer
	matrix      *rules.Matrix

	mu         sync.Mutex
	state      SessionState
	epoch      int
	deviceID   string
	deviceName string
	deviceAddr *net.UDPAddr
	suite      *protocol.Suite
	seq        int
	bindTry    int
	reconnects int

	bindTimer      *time.Timer
	reconnectTimer *time.Timer
	statusTimer    *time.Timer
	pollStop       chan struct{}
	recvDone       chan struct{}
	pending        *connectAttempt

	propMu sync.RWMutex
	props  map[string]interface{}

	cbMu         sync.RWMutex
	onConnect    []func()
	onStatus     []func(DeviceStatus)
	onError      []func(error)
	onDisconnect []func()
	onNoResponse []func()
}

// New creates a client over a fresh UDP transport.
func New(opts *Options) *Client {
	return NewWithTransport(opts, udp.NewTransport(udp.DefaultConfig()))
}

// NewWithTransport creates a client over the given transport.
func NewWithTransport(opts *Options, tr transport.Transport) *Client {
	o := opts.withDefaults()
	return &Client{
		opts:        o,
		log:         o.Logger.With("component", "client", "host", o.Host),
		tr:          tr,
		transformer: protocol.NewTransformer(),
		matrix:      rules.DefaultMatrix(),
		props:       make(map[string]interface{}),
	}
}

// OnConnect registers a callback invoked every time the session binds.
func (c *Client) OnConnect(fn func()) {
	c.cbMu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.cbMu.Unlock()
}

// OnStatusUpdate registers a callback invoked when cached device state
// changes.
func (c *Client) OnStatusUpdate(fn func(DeviceStatus)) {
	c.cbMu.Lock()
	c.onStatus = append(c.onStatus, fn)
	c.cbMu.Unlock()
}

// OnError registers a callback for asynchronous session errors.
func (c *Client) OnError(fn func(error)) {
	c.cbMu.Lock()
	c.onError = append(c.onError, fn)
	c.cbMu.Unlock()
}

// OnDisconnect registers a callback invoked when the session is torn down.
func (c *Client) OnDisconnect(fn func()) {
	c.cbMu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.cbMu.Unlock()
}

// OnNoResponse registers a callback invoked when a status poll goes
// unanswered.
func (c *Client) OnNoResponse(fn func()) {
	c.cbMu.Lock()
	c.onNoResponse = append(c.onNoResponse, fn)
	c.cbMu.Unlock()
}

// Connect establishes the session and blocks until it binds, Disconnect is
// called, or the context expires. The session keeps retrying on its own
// schedule; a context expiry only stops the wait, not the attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateBound {
		c.mu.Unlock()
		return nil
	}
	if c.pending == nil {
		c.pending = newConnectAttempt()
		if err := c.startLocked(ctx); err != nil {
			attempt := c.pending
			c.pending = nil
			c.mu.Unlock()
			attempt.resolve(err)
			return err
		}
	}
	attempt := c.pending
	c.mu.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) startLocked(ctx context.Context) error {
	addr, err := c.tr.Resolve(c.opts.Host, c.opts.Port)
	if err != nil {
		return fmt.Errorf("resolve device address: %w", err)
	}
	c.deviceAddr = addr

	if !c.tr.IsOpen() {
		if err := c.tr.Open(ctx); err != nil {
			return fmt.Errorf("open transport: %w", err)
		}
	}

	done := make(chan struct{})
	c.recvDone = done
	go c.receiveLoop(done)

	c.startCycleLocked()
	return nil
}

// startCycleLocked begins one scan/bind cycle: fresh cipher suite, a scan
// broadcast and a rearmed connect timer. The epoch bump invalidates every
// timer from the previous cycle.
func (c *Client) startCycleLocked() {
	c.epoch++
	c.suite = protocol.NewSuite()
	c.bindTry = 0
	c.state = StateScanning
	c.stopTimerLocked(&c.bindTimer)
	c.stopTimerLocked(&c.statusTimer)

	c.log.Debug("scanning for device")
	if err := c.sendRawLocked([]byte(`{"t":"scan"}`)); err != nil {
		c.log.Error("scan failed", "error", err)
		c.notifyError(err)
	}

	epoch := c.epoch
	c.stopTimerLocked(&c.reconnectTimer)
	c.reconnectTimer = time.AfterFunc(c.opts.ConnectTimeout, func() {
		c.onConnectTimeout(epoch)
	})
}

func (c *Client) onConnectTimeout(epoch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.state == StateBound || c.state == StateDisconnected {
		return
	}
	c.reconnects++
	metrics.IncReconnect(c.labelLocked())
	c.log.Warn("connection attempt timed out, retrying", "attempt", c.reconnects)
	c.startCycleLocked()
}

// Disconnect tears the session down, resolves any pending connect and
// closes the transport. Disconnecting an idle client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected && c.recvDone == nil {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	wasBound := c.state == StateBound
	c.state = StateDisconnected
	c.stopTimerLocked(&c.bindTimer)
	c.stopTimerLocked(&c.statusTimer)
	c.stopTimerLocked(&c.reconnectTimer)
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
	attempt := c.pending
	c.pending = nil
	done := c.recvDone
	c.recvDone = nil
	err := c.tr.Close()
	c.mu.Unlock()

	if attempt != nil {
		attempt.resolve(ErrDisconnected)
	}
	if done != nil {
		<-done
	}
	c.clearProperties()
	if wasBound {
		c.notifyDisconnect()
	}
	c.log.Info("disconnected")
	return err
}

// State returns the current session state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the session is bound.
func (c *Client) IsConnected() bool {
	return c.State() == StateBound
}

// DeviceID returns the device identifier learned during scan, or empty.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// DeviceName returns the device's advertised name, or empty.
func (c *Client) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceName
}

// Status returns a snapshot of the cached device state.
func (c *Client) Status() DeviceStatus {
	c.mu.Lock()
	id := c.deviceID
	c.mu.Unlock()
	return statusFromProperties(id, c.Properties())
}

// Properties returns the cached device state as a human-readable property
// map.
func (c *Client) Properties() map[string]interface{} {
	c.propMu.RLock()
	snapshot := make(map[string]interface{}, len(c.props))
	for k, v := range c.props {
		snapshot[k] = v
	}
	c.propMu.RUnlock()
	return c.transformer.FromVendor(snapshot)
}

// Control applies a partial control request, validating it against the
// mode-feature matrix first. Under strict enforcement a violating request
// is rejected without touching the device; under warn enforcement it is
// logged and sent anyway.
func (c *Client) Control(ctx context.Context, control *DeviceControl) error {
	props := control.properties()
	if len(props) == 0 {
		c.log.Warn("ignoring empty control request")
		return nil
	}

	if c.opts.Enforcement != rules.EnforceNone {
		if err := c.ValidateControl(control); err != nil {
			if c.opts.Enforcement == rules.EnforceStrict {
				return err
			}
			c.log.Warn("control request violates mode rules", "error", err)
		}
	}

	return c.SetProperties(ctx, props)
}

// ValidateControl checks a control request against the mode-feature matrix
// without sending anything. The target mode comes from the request itself,
// falling back to the cached device mode.
func (c *Client) ValidateControl(control *DeviceControl) error {
	feats := control.features()
	if len(feats) == 0 {
		return nil
	}

	mode := ""
	if control.Mode != nil {
		mode = strings.ToLower(*control.Mode)
	} else if s := c.Status(); s.Mode != nil {
		mode = *s.Mode
	}
	mode = validationMode(mode)

	violations := c.matrix.Validate(mode, feats, c.opts.ValidateWindSettings)
	if len(violations) == 0 {
		return nil
	}
	return &rules.ValidationError{Mode: mode, Violations: violations}
}

// IsFeatureAvailable reports whether a feature may be enabled in the
// device's current mode. It returns false while the mode is unknown.
func (c *Client) IsFeatureAvailable(feature string) bool {
	s := c.Status()
	if s.Mode == nil {
		return false
	}
	return c.matrix.IsFeatureAvailable(feature, validationMode(*s.Mode))
}

// AvailableFeatures returns the features usable in the device's current
// mode.
func (c *Client) AvailableFeatures() []string {
	s := c.Status()
	if s.Mode == nil {
		return nil
	}
	return c.matrix.FeaturesForMode(validationMode(*s.Mode))
}

// SetProperties sends a raw property map to the device. Values use the
// human-readable representation; unknown and read-only properties are
// dropped by the codec.
func (c *Client) SetProperties(_ context.Context, properties map[string]interface{}) error {
	vendor := c.transformer.ToVendor(properties)
	if len(vendor) == 0 {
		c.log.Warn("control request contained no writable properties")
		return nil
	}

	opt := make([]string, 0, len(vendor))
	p := make([]interface{}, 0, len(vendor))
	for code, value := range vendor {
		opt = append(opt, code)
		p = append(p, value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBound {
		return ErrNotConnected
	}
	return c.sendPayloadLocked(map[string]interface{}{
		"opt": opt,
		"p":   p,
		"t":   protocol.TypeCmd,
	})
}

// receiveLoop pumps inbound datagrams until the transport closes.
func (c *Client) receiveLoop(done chan struct{}) {
	defer close(done)
	for {
		data, _, err := c.tr.Receive(context.Background())
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !c.tr.IsOpen() {
				return
			}
			c.log.Error("receive failed", "error", err)
			c.notifyError(err)
			continue
		}
		c.handleDatagram(data)
	}
}

func (c *Client) handleDatagram(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil || env.Pack == "" {
		metrics.IncPacket(c.label(), metrics.DirectionInbound, metrics.StatusFailed)
		c.log.Debug("dropping malformed datagram", "error", err)
		return
	}

	c.mu.Lock()
	suite := c.suite
	c.mu.Unlock()
	if suite == nil {
		return
	}

	plaintext, err := suite.Decrypt(env)
	if err != nil {
		metrics.IncCryptoError(c.label())
		metrics.IncPacket(c.label(), metrics.DirectionInbound, metrics.StatusFailed)
		c.log.Debug("dropping undecryptable datagram", "error", err)
		return
	}

	payload, err := protocol.ParsePayload(plaintext)
	if err != nil {
		metrics.IncPacket(c.label(), metrics.DirectionInbound, metrics.StatusFailed)
		c.log.Debug("dropping unparseable payload", "error", err)
		return
	}
	metrics.IncPacket(c.label(), metrics.DirectionInbound, metrics.StatusSuccess)

	var after []func()
	c.mu.Lock()
	switch payload.Type {
	case protocol.TypeDev:
		c.handleDevLocked(payload)
	case protocol.TypeBindOK:
		after = c.handleBindOKLocked(payload)
	case protocol.TypeDat:
		after = c.handleDatLocked(payload)
	case protocol.TypeRes:
		after = c.handleResLocked(payload)
	default:
		c.log.Debug("ignoring payload", "type", payload.Type)
	}
	c.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

func (c *Client) handleDevLocked(p *protocol.Payload) {
	if c.state != StateScanning {
		return
	}
	id := p.DeviceID()
	if id == "" {
		c.log.Warn("device reply carried no identifier")
		return
	}
	c.deviceID = id
	c.deviceName = p.Name
	c.log.Info("device found", "device", id, "name", p.Name, "version", p.Ver)
	c.state = StateBinding
	c.sendBindLocked()
}

// sendBindLocked sends one bind request under the currently active cipher
// and arms the fallback timer. The first unanswered attempt switches the
// suite to AEAD; the second is left to the connect timer.
func (c *Client) sendBindLocked() {
	c.bindTry++
	metrics.IncBindAttempt(c.deviceID, string(c.suite.Algorithm()))
	c.log.Debug("binding", "attempt", c.bindTry, "algorithm", c.suite.Algorithm())

	err := c.sendPayloadLocked(map[string]interface{}{
		"mac": c.deviceID,
		"t":   protocol.TypeBind,
		"uid": 0,
	})
	if err != nil {
		c.log.Error("bind failed", "error", err)
		c.notifyError(err)
	}

	epoch := c.epoch
	c.stopTimerLocked(&c.bindTimer)
	c.bindTimer = time.AfterFunc(c.opts.BindTimeout, func() {
		c.onBindTimeout(epoch)
	})
}

func (c *Client) onBindTimeout(epoch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.state != StateBinding || c.bindTry != 1 {
		return
	}
	c.log.Debug("bind unanswered, falling back to AEAD cipher")
	c.suite.UseAEAD()
	c.sendBindLocked()
}

func (c *Client) handleBindOKLocked(p *protocol.Payload) []func() {
	if c.state != StateBinding {
		return nil
	}
	if p.Key != "" {
		c.suite.ApplyKey(p.Key)
	}
	c.stopTimerLocked(&c.bindTimer)
	c.stopTimerLocked(&c.reconnectTimer)
	c.state = StateBound
	c.reconnects = 0
	c.log.Info("session bound", "device", c.deviceID, "algorithm", c.suite.Algorithm())

	c.requestStatusLocked()
	if c.opts.Poll {
		c.startPollingLocked()
	}

	attempt := c.pending
	c.pending = nil

	c.cbMu.RLock()
	listeners := append([]func(){}, c.onConnect...)
	c.cbMu.RUnlock()

	return []func(){func() {
		if attempt != nil {
			attempt.resolve(nil)
		}
		for _, fn := range listeners {
			fn()
		}
	}}
}

func (c *Client) requestStatusLocked() {
	cols := c.transformer.ArrayToVendor(protocol.StatusProperties)
	err := c.sendPayloadLocked(map[string]interface{}{
		"cols": cols,
		"mac":  c.deviceID,
		"t":    protocol.TypeStatus,
	})
	if err != nil {
		c.log.Error("status request failed", "error", err)
		c.notifyError(err)
	}

	epoch := c.epoch
	c.stopTimerLocked(&c.statusTimer)
	c.statusTimer = time.AfterFunc(c.opts.PollingTimeout, func() {
		c.onStatusTimeout(epoch)
	})
}

// onStatusTimeout fires when a status poll goes unanswered. The cache is
// dropped so stale values are never served as current state.
func (c *Client) onStatusTimeout(epoch int) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateBound {
		c.mu.Unlock()
		return
	}
	c.log.Warn("status request timed out", "device", c.deviceID)
	c.mu.Unlock()

	c.clearProperties()
	c.notifyNoResponse()
}

func (c *Client) startPollingLocked() {
	if c.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	c.pollStop = stop

	go func() {
		ticker := time.NewTicker(c.opts.PollingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.state == StateBound {
					c.requestStatusLocked()
				}
				c.mu.Unlock()
			}
		}
	}()
}

func (c *Client) handleDatLocked(p *protocol.Payload) []func() {
	c.stopTimerLocked(&c.statusTimer)

	incoming := protocol.Columns(p.Cols, p.Dat)
	if !c.replaceProperties(incoming) {
		return nil
	}

	status := statusFromProperties(c.deviceID, c.transformer.FromVendor(incoming))
	return []func(){func() { c.notifyStatus(status) }}
}

func (c *Client) handleResLocked(p *protocol.Payload) []func() {
	incoming := protocol.Columns(p.Opt, p.Values())
	c.log.Debug("command acknowledged", "device", c.deviceID, "values", incoming)
	if !c.mergeProperties(incoming) {
		return nil
	}

	c.propMu.RLock()
	snapshot := make(map[string]interface{}, len(c.props))
	for k, v := range c.props {
		snapshot[k] = v
	}
	c.propMu.RUnlock()

	status := statusFromProperties(c.deviceID, c.transformer.FromVendor(snapshot))
	return []func(){func() { c.notifyStatus(status) }}
}

// replaceProperties swaps the whole cache for the latest full snapshot and
// reports whether anything changed.
func (c *Client) replaceProperties(incoming map[string]interface{}) bool {
	c.propMu.Lock()
	defer c.propMu.Unlock()

	changed := len(incoming) != len(c.props)
	if !changed {
		for code, value := range incoming {
			if !reflect.DeepEqual(c.props[code], value) {
				changed = true
				break
			}
		}
	}
	c.props = incoming
	return changed
}

// mergeProperties folds acknowledged values into the cache and reports
// whether anything changed.
func (c *Client) mergeProperties(incoming map[string]interface{}) bool {
	c.propMu.Lock()
	defer c.propMu.Unlock()

	changed := false
	for code, value := range incoming {
		if !reflect.DeepEqual(c.props[code], value) {
			changed = true
		}
		c.props[code] = value
	}
	return changed
}

func (c *Client) clearProperties() {
	c.propMu.Lock()
	c.props = make(map[string]interface{})
	c.propMu.Unlock()
}

func (c *Client) sendPayloadLocked(payload interface{}) error {
	enc, err := c.suite.Encrypt(payload)
	if err != nil {
		return err
	}
	c.seq++
	data, err := json.Marshal(protocol.NewEnvelope(c.seq, enc))
	if err != nil {
		return err
	}
	return c.sendRawLocked(data)
}

func (c *Client) sendRawLocked(data []byte) error {
	_, err := c.tr.Send(context.Background(), data, c.deviceAddr)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
	}
	metrics.IncPacket(c.labelLocked(), metrics.DirectionOutbound, status)
	return err
}

func (c *Client) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Client) label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.labelLocked()
}

func (c *Client) labelLocked() string {
	if c.deviceID != "" {
		return c.deviceID
	}
	return c.opts.Host
}

func (c *Client) notifyStatus(status DeviceStatus) {
	c.cbMu.RLock()
	listeners := append([]func(DeviceStatus){}, c.onStatus...)
	c.cbMu.RUnlock()
	for _, fn := range listeners {
		fn(status)
	}
}

// notifyError fans out asynchronously; it is called from paths holding the
// session mutex.
func (c *Client) notifyError(err error) {
	c.cbMu.RLock()
	listeners := append([]func(error){}, c.onError...)
	c.cbMu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	go func() {
		for _, fn := range listeners {
			fn(err)
		}
	}()
}

func (c *Client) notifyDisconnect() {
	c.cbMu.RLock()
	listeners := append([]func(){}, c.onDisconnect...)
	c.cbMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func (c *Client) notifyNoResponse() {
	c.cbMu.RLock()
	listeners := append([]func(){}, c.onNoResponse...)
	c.cbMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// validationMode maps the codec's mode vocabulary onto the matrix's.
func validationMode(mode string) string {
	if mode == protocol.ModeFanOnly {
		return rules.ModeFan
	}
	return mode
}
