// Package mqtt bridges device sessions to an MQTT broker: status updates
// and availability are published per device, and control requests are
// accepted on a set topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greelink/greelink/pkg/client"
	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/manager"
)

// Bridge connects the manager's event stream to an MQTT broker.
type Bridge struct {
	mu sync.RWMutex

	config  manager.MQTTConfig
	manager *manager.Manager
	log     *logger.Logger
	client  mqtt.Client
	prefix  string
}

// New creates a bridge over the manager. Start must be called before any
// traffic flows.
func New(mgr *manager.Manager, config manager.MQTTConfig) *Bridge {
	prefix := config.TopicPrefix
	if prefix == "" {
		prefix = "greelink"
	}
	return &Bridge{
		config:  config,
		manager: mgr,
		log:     logger.Global().With("component", "mqtt"),
		prefix:  prefix,
	}
}

// Start connects to the broker, subscribes to the per-device set topics
// and begins publishing manager events.
func (b *Bridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.config.Broker)

	clientID := b.config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("greelink-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)

	if b.config.Username != "" {
		opts.SetUsername(b.config.Username)
		opts.SetPassword(b.config.Password)
	}

	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.log.Info("Connected to MQTT broker", "broker", b.config.Broker)
		topic := b.prefix + "/+/set"
		token := c.Subscribe(topic, b.config.QoS, b.handleSet)
		if token.Wait() && token.Error() != nil {
			b.log.Error("Subscribe failed", "topic", topic, "error", token.Error())
		}
	})

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		b.log.Warn("MQTT connection lost", "error", err)
	})

	mqttClient := mqtt.NewClient(opts)
	token := mqttClient.Connect()

	finished := make(chan struct{})
	go func() {
		token.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	b.client = mqttClient
	b.mu.Unlock()

	b.manager.OnEvent(manager.EventHandlerFunc(b.handleEvent))
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	b.client = nil
}

// handleEvent publishes manager events to the per-device topics.
func (b *Bridge) handleEvent(event manager.Event) {
	if event.Device == "" {
		return
	}

	switch event.Type {
	case manager.EventStatusUpdated:
		if event.Status == nil {
			return
		}
		payload, err := json.Marshal(event.Status)
		if err != nil {
			return
		}
		b.publish(b.topic(event.Device, "status"), payload, false)
	case manager.EventDeviceConnected:
		b.publish(b.topic(event.Device, "availability"), []byte("online"), true)
	case manager.EventDeviceDisconnected, manager.EventDeviceNoResponse:
		b.publish(b.topic(event.Device, "availability"), []byte("offline"), true)
	}
}

// handleSet accepts a control request published to <prefix>/<device>/set.
func (b *Bridge) handleSet(_ mqtt.Client, msg mqtt.Message) {
	device, ok := b.deviceFromTopic(msg.Topic())
	if !ok {
		return
	}

	var control client.DeviceControl
	if err := json.Unmarshal(msg.Payload(), &control); err != nil {
		b.log.Warn("Invalid control payload", "device", device, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.manager.Control(ctx, device, &control); err != nil {
		b.log.Warn("MQTT control failed", "device", device, "error", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	b.mu.RLock()
	c := b.client
	b.mu.RUnlock()
	if c == nil || !c.IsConnected() {
		return
	}

	token := c.Publish(topic, b.config.QoS, retained, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			b.log.Warn("Publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

func (b *Bridge) topic(device, suffix string) string {
	return b.prefix + "/" + device + "/" + suffix
}

// deviceFromTopic extracts the device name from <prefix>/<device>/set.
func (b *Bridge) deviceFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", false
	}
	device, ok := strings.CutSuffix(rest, "/set")
	if !ok || device == "" || strings.Contains(device, "/") {
		return "", false
	}
	return device, true
}
