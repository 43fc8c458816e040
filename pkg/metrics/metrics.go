package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	PacketCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greelink_device_packets_total",
		Help: "The total number of protocol packets exchanged with devices",
	}, []string{"device", "direction", "status"})

	CryptoErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greelink_crypto_errors_total",
		Help: "The total number of inbound datagrams dropped for crypto failures",
	}, []string{"device"})

	BindAttemptCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greelink_bind_attempts_total",
		Help: "The total number of bind attempts by cipher algorithm",
	}, []string{"device", "algorithm"})

	ReconnectCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greelink_reconnects_total",
		Help: "The total number of connect-timeout driven reconnect cycles",
	}, []string{"device"})

	// Gauges
	ConnectedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greelink_connected_devices_total",
		Help: "The number of device sessions currently bound",
	})
)

// Direction constants
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// IncPacket increments the packet counter.
func IncPacket(device, direction, status string) {
	PacketCount.WithLabelValues(device, direction, status).Inc()
}

// IncCryptoError increments the dropped-datagram counter.
func IncCryptoError(device string) {
	CryptoErrorCount.WithLabelValues(device).Inc()
}

// IncBindAttempt increments the bind attempt counter.
func IncBindAttempt(device, algorithm string) {
	BindAttemptCount.WithLabelValues(device, algorithm).Inc()
}

// IncReconnect increments the reconnect counter.
func IncReconnect(device string) {
	ReconnectCount.WithLabelValues(device).Inc()
}

// SetConnectedDevices sets the bound-session gauge.
func SetConnectedDevices(count int) {
	ConnectedDevices.Set(float64(count))
}
