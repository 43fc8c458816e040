// Package config handles configuration loading and management.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/greelink/greelink/pkg/manager"
)

// Default config file locations.
var configPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./greelink.yaml",
	"./greelink.yml",
	"~/.config/greelink/config.yaml",
	"/etc/greelink/config.yaml",
}

// Load loads configuration from file.
func Load(path string) (*manager.Config, error) {
	// If path is specified, use it directly
	if path != "" {
		return loadFile(path)
	}

	// Try default paths
	for _, p := range configPaths {
		// Expand home directory
		if p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}

		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	// Return default config if no file found
	return DefaultConfig(), nil
}

// loadFile loads configuration from a specific file.
func loadFile(path string) (*manager.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg manager.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration.
func Validate(cfg *manager.Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// Save saves configuration to file.
func Save(path string, cfg *manager.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *manager.Config {
	return &manager.Config{
		Devices: []manager.DeviceConfig{},
		Discovery: manager.DiscoveryConfig{
			Broadcast: "255.255.255.255",
			Port:      7000,
			Timeout:   3 * time.Second,
		},
		API: manager.APIConfig{
			Enabled: false,
			Port:    8480,
		},
		MQTT: manager.MQTTConfig{
			Enabled:     false,
			TopicPrefix: "greelink",
		},
		Registry: manager.RegistryConfig{
			Enabled: false,
			Path:    "./greelink.db",
		},
		Logging: manager.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: manager.MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
