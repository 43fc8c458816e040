package client

import (
	"time"

	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/protocol"
	"github.com/greelink/greelink/pkg/rules"
)

// Options holds client configuration. The zero value is not usable; start
// from NewOptions.
type Options struct {
	// Host is the device IP address or hostname.
	Host string `yaml:"host" json:"host" validate:"required"`

	// Port is the device UDP port.
	Port int `yaml:"port" json:"port" validate:"min=0,max=65535"`

	// ConnectTimeout bounds one scan/bind cycle before the reconnect loop
	// starts the next one.
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// BindTimeout is how long the first bind attempt may go unanswered
	// before the cipher fallback kicks in.
	BindTimeout time.Duration `yaml:"bind_timeout" json:"bind_timeout"`

	// Poll enables periodic status polling once bound.
	Poll bool `yaml:"poll" json:"poll"`

	// PollingInterval is the fixed interval between status polls.
	PollingInterval time.Duration `yaml:"polling_interval" json:"polling_interval"`

	// PollingTimeout bounds one status round trip.
	PollingTimeout time.Duration `yaml:"polling_timeout" json:"polling_timeout"`

	// Enforcement controls what happens when a control request violates
	// the mode-feature matrix.
	Enforcement rules.Enforcement `yaml:"enforcement" json:"enforcement"`

	// ValidateWindSettings enables the wind-setting half of the matrix.
	ValidateWindSettings bool `yaml:"validate_wind_settings" json:"validate_wind_settings"`

	// Logger is the structured logger. Defaults to the global one.
	Logger *logger.Logger `yaml:"-" json:"-"`
}

// NewOptions returns client options for a host with protocol defaults.
func NewOptions(host string) *Options {
	return &Options{
		Host:                 host,
		Port:                 protocol.DefaultPort,
		ConnectTimeout:       3 * time.Second,
		BindTimeout:          500 * time.Millisecond,
		Poll:                 true,
		PollingInterval:      3 * time.Second,
		PollingTimeout:       time.Second,
		Enforcement:          rules.EnforceWarn,
		ValidateWindSettings: true,
	}
}

func (o *Options) withDefaults() *Options {
	def := NewOptions(o.Host)
	out := *o
	if out.Port <= 0 {
		out.Port = def.Port
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.BindTimeout <= 0 {
		out.BindTimeout = def.BindTimeout
	}
	if out.PollingInterval <= 0 {
		out.PollingInterval = def.PollingInterval
	}
	if out.PollingTimeout <= 0 {
		out.PollingTimeout = def.PollingTimeout
	}
	if out.Enforcement == "" {
		out.Enforcement = def.Enforcement
	}
	if out.Logger == nil {
		out.Logger = logger.Global()
	}
	return &out
}
