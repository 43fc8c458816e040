package manager

import (
	"time"

	"github.com/greelink/greelink/pkg/rules"
)

// Config holds the manager configuration.
type Config struct {
	// Devices defines the device sessions to manage.
	Devices []DeviceConfig `yaml:"devices" json:"devices" validate:"dive"`

	// Discovery defines broadcast scan settings.
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// MQTT defines the MQTT bridge settings.
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`

	// Registry defines device registry persistence settings.
	Registry RegistryConfig `yaml:"registry" json:"registry"`

	// Logging defines logging settings.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics defines metrics settings.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// DeviceConfig describes one managed device session.
type DeviceConfig struct {
	// Name is the unique device name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Host is the device IP address or hostname.
	Host string `yaml:"host" json:"host" validate:"required"`

	// Port is the device UDP port.
	Port int `yaml:"port" json:"port" validate:"min=0,max=65535"`

	// Enabled indicates if the session is started with the manager.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Poll enables periodic status polling.
	Poll bool `yaml:"poll" json:"poll"`

	// PollingInterval is the fixed interval between status polls.
	PollingInterval time.Duration `yaml:"polling_interval" json:"polling_interval"`

	// ConnectTimeout bounds one scan/bind cycle.
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// Enforcement is the mode-rule enforcement level (none, warn, strict).
	Enforcement string `yaml:"enforcement" json:"enforcement" validate:"omitempty,oneof=none warn strict"`

	// ValidateWindSettings enables wind-setting validation.
	ValidateWindSettings bool `yaml:"validate_wind_settings" json:"validate_wind_settings"`
}

// DiscoveryConfig holds broadcast scan settings.
type DiscoveryConfig struct {
	// Broadcast is the scan target address.
	Broadcast string `yaml:"broadcast" json:"broadcast"`

	// Port is the device UDP port.
	Port int `yaml:"port" json:"port"`

	// Timeout is the scan window.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// APIConfig holds API settings.
type APIConfig struct {
	Enabled bool       `yaml:"enabled" json:"enabled"`
	Port    int        `yaml:"port" json:"port" validate:"min=0,max=65535"`
	Auth    AuthConfig `yaml:"auth" json:"auth"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled   bool         `yaml:"enabled" json:"enabled"`
	JWTSecret string       `yaml:"jwt_secret" json:"jwt_secret"`
	Users     []UserConfig `yaml:"users" json:"users"`
}

// UserConfig holds user credentials and role.
type UserConfig struct {
	Name string `yaml:"name" json:"name"`
	Key  string `yaml:"key" json:"key"`
	Role string `yaml:"role" json:"role"` // "admin", "viewer"
}

// MQTTConfig holds MQTT bridge settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         byte   `yaml:"qos" json:"qos"`
}

// RegistryConfig holds device registry persistence settings.
type RegistryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"` // Path to SQLite DB
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level"`

	// Format is the log format (json, text).
	Format string `yaml:"format" json:"format"`

	// Output is the log output (stdout, file).
	Output string `yaml:"output" json:"output"`

	// File is the log file path.
	File string `yaml:"file" json:"file"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables the metrics endpoint.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Endpoint is the metrics HTTP endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Enforcement parses the device's enforcement level, falling back to warn.
func (d DeviceConfig) enforcement() rules.Enforcement {
	level, err := rules.ParseEnforcement(d.Enforcement)
	if err != nil {
		return rules.EnforceWarn
	}
	return level
}
