// Package manager orchestrates device sessions: it owns the clients, the
// discovery scanner, the device registry and the event stream the API and
// bridge layers consume.
package manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greelink/greelink/pkg/client"
	"github.com/greelink/greelink/pkg/discovery"
	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/metrics"
	"github.com/greelink/greelink/pkg/registry"
	"github.com/greelink/greelink/pkg/registry/sqlite"
)

// Common errors.
var (
	ErrNotStarted     = errors.New("manager not started")
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device already exists")
)

// EventType represents manager event types.
type EventType int

const (
	EventManagerStarted EventType = iota
	EventManagerStopped
	EventDeviceAdded
	EventDeviceRemoved
	EventDeviceConnected
	EventDeviceDisconnected
	EventDeviceNoResponse
	EventDeviceError
	EventStatusUpdated
	EventDeviceDiscovered
)

func (t EventType) String() string {
	switch t {
	case EventManagerStarted:
		return "manager_started"
	case EventManagerStopped:
		return "manager_stopped"
	case EventDeviceAdded:
		return "device_added"
	case EventDeviceRemoved:
		return "device_removed"
	case EventDeviceConnected:
		return "device_connected"
	case EventDeviceDisconnected:
		return "device_disconnected"
	case EventDeviceNoResponse:
		return "device_no_response"
	case EventDeviceError:
		return "device_error"
	case EventStatusUpdated:
		return "status_updated"
	case EventDeviceDiscovered:
		return "device_discovered"
	default:
		return "unknown"
	}
}

// Event represents a manager event.
type Event struct {
	ID        string               `json:"id"`
	Type      EventType            `json:"type"`
	Device    string               `json:"device,omitempty"`
	Status    *client.DeviceStatus `json:"status,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// EventHandler handles manager events.
type EventHandler interface {
	OnEvent(event Event)
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(event Event)

func (f EventHandlerFunc) OnEvent(event Event) {
	f(event)
}

// Session is one managed device.
type Session struct {
	Name   string
	Config DeviceConfig
	Client *client.Client
}

// Manager is the main orchestrator.
type Manager struct {
	mu sync.RWMutex

	config   *Config
	logger   *logger.Logger
	sessions map[string]*Session
	scanner  *discovery.Scanner
	store    registry.Store

	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	eventChan chan Event
	handlers  []EventHandler
}

// New creates a manager instance from config.
func New(config *Config) (*Manager, error) {
	if config == nil {
		config = &Config{}
	}

	logConfig := logger.Config{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
		Output: config.Logging.Output,
		File:   config.Logging.File,
	}
	if logConfig.Level == "" {
		logConfig.Level = "info"
	}
	if logConfig.Format == "" {
		logConfig.Format = "text"
	}

	l := logger.New(logConfig)
	logger.SetGlobal(l)

	m := &Manager{
		config:    config,
		logger:    l,
		sessions:  make(map[string]*Session),
		eventChan: make(chan Event, 1000),
	}

	m.scanner = discovery.New(&discovery.Options{
		Broadcast: config.Discovery.Broadcast,
		Port:      config.Discovery.Port,
		Timeout:   config.Discovery.Timeout,
		Logger:    l,
	})

	if config.Registry.Enabled {
		storePath := config.Registry.Path
		if storePath == "" {
			storePath = "./greelink.db"
		}
		store, err := sqlite.NewStore(storePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize device registry: %w", err)
		}
		m.store = store
		l.Info("Device registry enabled", "path", storePath)
	}

	return m, nil
}

// Start starts the manager and connects all enabled devices.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic recovered in Manager.Start", "error", r, "stack", string(debug.Stack()))
		}
	}()

	if m.started {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.logger.Info("Starting manager", "devices", len(m.config.Devices))

	go m.dispatchEvents()

	for _, devConfig := range m.config.Devices {
		if !devConfig.Enabled {
			continue
		}
		session, err := m.createSession(devConfig)
		if err != nil {
			m.logger.Error("Failed to create device session", "name", devConfig.Name, "error", err)
			return err
		}
		m.sessions[devConfig.Name] = session
		m.startSession(session)
	}

	m.started = true
	m.emit(Event{Type: EventManagerStarted})

	return nil
}

// Stop stops the manager and disconnects all devices.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Info("Stopping manager...")

	for name, session := range m.sessions {
		if err := session.Client.Disconnect(); err != nil {
			m.logger.Warn("Error disconnecting device", "name", name, "error", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.logger.Warn("Error closing device registry", "error", err)
		}
	}

	if m.cancel != nil {
		m.cancel()
	}

	m.started = false
	m.emit(Event{Type: EventManagerStopped})
	metrics.SetConnectedDevices(0)

	return nil
}

// AddDevice adds a new device session at runtime.
func (m *Manager) AddDevice(config DeviceConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[config.Name]; exists {
		return nil, ErrDeviceExists
	}

	session, err := m.createSession(config)
	if err != nil {
		return nil, err
	}
	m.sessions[config.Name] = session

	if m.started {
		m.startSession(session)
	}

	m.logger.Info("Device added", "name", config.Name, "host", config.Host)
	m.emit(Event{Type: EventDeviceAdded, Device: config.Name})
	return session, nil
}

// RemoveDevice disconnects and removes a device session.
func (m *Manager) RemoveDevice(name string) error {
	m.mu.Lock()
	session, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return ErrDeviceNotFound
	}
	delete(m.sessions, name)
	m.mu.Unlock()

	if err := session.Client.Disconnect(); err != nil {
		return err
	}

	m.logger.Info("Device removed", "name", name)
	m.emit(Event{Type: EventDeviceRemoved, Device: name})
	m.updateConnectedGauge()
	return nil
}

// ConnectDevice starts (or restarts) the connect cycle for a device. The
// connect runs in the background on the client's own retry schedule.
func (m *Manager) ConnectDevice(name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.started {
		return ErrNotStarted
	}
	session, ok := m.sessions[name]
	if !ok {
		return ErrDeviceNotFound
	}
	m.startSession(session)
	return nil
}

// DisconnectDevice tears down a device session without removing it.
func (m *Manager) DisconnectDevice(name string) error {
	session, err := m.GetDevice(name)
	if err != nil {
		return err
	}
	return session.Client.Disconnect()
}

// GetDevice returns a device session by name.
func (m *Manager) GetDevice(name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[name]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return session, nil
}

// ListDevices returns all device names.
func (m *Manager) ListDevices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	return names
}

// Discover broadcasts a scan and returns the devices that answered. Found
// devices are recorded in the registry when it is enabled.
func (m *Manager) Discover(ctx context.Context) ([]discovery.DeviceInfo, error) {
	found, err := m.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	for _, info := range found {
		m.emit(Event{Type: EventDeviceDiscovered, Device: info.ID})
		if m.store == nil {
			continue
		}
		err := m.store.Upsert(&registry.Device{
			ID:      info.ID,
			Name:    info.Name,
			Version: info.Version,
			Address: info.Address,
			Port:    info.Port,
		})
		if err != nil {
			m.logger.Warn("Failed to record discovered device", "device", info.ID, "error", err)
		}
	}

	return found, nil
}

// KnownDevices returns the registry's device records, or nil when the
// registry is disabled.
func (m *Manager) KnownDevices() ([]*registry.Device, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.List()
}

// Control applies a control request to a named device.
func (m *Manager) Control(ctx context.Context, name string, control *client.DeviceControl) error {
	session, err := m.GetDevice(name)
	if err != nil {
		return err
	}
	return session.Client.Control(ctx, control)
}

// StatusOf returns the cached status of a named device.
func (m *Manager) StatusOf(name string) (client.DeviceStatus, error) {
	session, err := m.GetDevice(name)
	if err != nil {
		return client.DeviceStatus{}, err
	}
	return session.Client.Status(), nil
}

// DeviceState describes one session in a manager status report.
type DeviceState struct {
	Name      string              `json:"name"`
	Host      string              `json:"host"`
	State     string              `json:"state"`
	DeviceID  string              `json:"device_id,omitempty"`
	Connected bool                `json:"connected"`
	Status    client.DeviceStatus `json:"status"`
}

// ManagerStatus represents the manager status.
type ManagerStatus struct {
	Started bool                   `json:"started"`
	Devices map[string]DeviceState `json:"devices"`
}

// Status returns the manager status.
func (m *Manager) Status() ManagerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := ManagerStatus{
		Started: m.started,
		Devices: make(map[string]DeviceState, len(m.sessions)),
	}
	for name, session := range m.sessions {
		status.Devices[name] = DeviceState{
			Name:      name,
			Host:      session.Config.Host,
			State:     session.Client.State().String(),
			DeviceID:  session.Client.DeviceID(),
			Connected: session.Client.IsConnected(),
			Status:    session.Client.Status(),
		}
	}
	return status
}

// Config returns the manager configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnEvent registers an event handler.
func (m *Manager) OnEvent(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// createSession builds a session and wires its callbacks into the event
// stream.
func (m *Manager) createSession(config DeviceConfig) (*Session, error) {
	if config.Name == "" || config.Host == "" {
		return nil, errors.New("device name and host are required")
	}

	opts := client.NewOptions(config.Host)
	opts.Logger = m.logger
	opts.Poll = config.Poll
	opts.Enforcement = config.enforcement()
	opts.ValidateWindSettings = config.ValidateWindSettings
	if config.Port > 0 {
		opts.Port = config.Port
	}
	if config.PollingInterval > 0 {
		opts.PollingInterval = config.PollingInterval
	}
	if config.ConnectTimeout > 0 {
		opts.ConnectTimeout = config.ConnectTimeout
	}

	c := client.New(opts)
	name := config.Name

	c.OnConnect(func() {
		m.emit(Event{Type: EventDeviceConnected, Device: name})
		m.updateConnectedGauge()
	})
	c.OnDisconnect(func() {
		m.emit(Event{Type: EventDeviceDisconnected, Device: name})
		m.updateConnectedGauge()
	})
	c.OnStatusUpdate(func(s client.DeviceStatus) {
		m.emit(Event{Type: EventStatusUpdated, Device: name, Status: &s})
	})
	c.OnError(func(err error) {
		m.emit(Event{Type: EventDeviceError, Device: name, Error: err.Error()})
	})
	c.OnNoResponse(func() {
		m.emit(Event{Type: EventDeviceNoResponse, Device: name})
	})

	return &Session{Name: name, Config: config, Client: c}, nil
}

// startSession kicks off the connect in the background; the client retries
// on its own schedule until it binds or is disconnected.
func (m *Manager) startSession(session *Session) {
	ctx := m.ctx
	go func() {
		if err := session.Client.Connect(ctx); err != nil && !errors.Is(err, client.ErrDisconnected) {
			m.logger.Error("Device connect failed", "name", session.Name, "error", err)
		}
	}()
}

// updateConnectedGauge recounts bound sessions for the connected-devices
// gauge.
func (m *Manager) updateConnectedGauge() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, session := range m.sessions {
		if session.Client.IsConnected() {
			count++
		}
	}
	metrics.SetConnectedDevices(count)
}

// emit sends an event to handlers.
func (m *Manager) emit(event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()
	select {
	case m.eventChan <- event:
	default:
		// Channel full, drop event
	}
}

// dispatchEvents dispatches events to handlers.
func (m *Manager) dispatchEvents() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in event dispatcher", "error", r)
		}
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event := <-m.eventChan:
			m.mu.RLock()
			handlers := make([]EventHandler, len(m.handlers))
			copy(handlers, m.handlers)
			m.mu.RUnlock()

			for _, handler := range handlers {
				func() {
					defer func() {
						if r := recover(); r != nil {
							m.logger.Error("Panic in event handler", "error", r)
						}
					}()
					handler.OnEvent(event)
				}()
			}
		}
	}
}
