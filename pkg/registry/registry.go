// Package registry persists devices seen on the network so they survive a
// restart and can be reconnected without a fresh broadcast scan.
package registry

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a device is not in the registry.
var ErrNotFound = errors.New("device not found")

// Device is one registered device.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Version   string    `json:"version,omitempty"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store defines the interface for device persistence.
type Store interface {
	// Upsert inserts a device or refreshes an existing record's address,
	// name and last-seen time.
	Upsert(dev *Device) error

	// Get retrieves one device by id.
	Get(id string) (*Device, error)

	// List retrieves every registered device, most recently seen first.
	List() ([]*Device, error)

	// Delete removes a device.
	Delete(id string) error

	// Close closes the store.
	Close() error
}
