package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/greelink/greelink/pkg/registry"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "devices.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := testStore(t)

	dev := &registry.Device{
		ID:      "f4911e11bd2c",
		Name:    "living room",
		Version: "V1.2.1",
		Address: "192.168.1.50",
		Port:    7000,
	}
	if err := s.Upsert(dev); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.Get(dev.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != dev.Name || got.Address != dev.Address || got.Port != dev.Port {
		t.Errorf("Get() = %+v, want %+v", got, dev)
	}
	if got.FirstSeen.IsZero() || got.LastSeen.IsZero() {
		t.Error("seen timestamps not populated")
	}
}

func TestUpsertRefreshesExisting(t *testing.T) {
	s := testStore(t)

	dev := &registry.Device{ID: "f4911e11bd2c", Address: "192.168.1.50", Port: 7000}
	if err := s.Upsert(dev); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	first, err := s.Get(dev.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	dev.Address = "192.168.1.77"
	dev.Name = "bedroom"
	if err := s.Upsert(dev); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, err := s.Get(dev.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Address != "192.168.1.77" || got.Name != "bedroom" {
		t.Errorf("record not refreshed: %+v", got)
	}
	if !got.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("first_seen changed on refresh: %v -> %v", first.FirstSeen, got.FirstSeen)
	}

	devices, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("List() returned %d devices, want 1", len(devices))
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)

	dev := &registry.Device{ID: "f4911e11bd2c", Address: "192.168.1.50", Port: 7000}
	if err := s.Upsert(dev); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.Delete(dev.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(dev.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}
