package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/greelink/greelink/pkg/registry"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements registry.Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite store.
func NewStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		name TEXT,
		version TEXT,
		address TEXT NOT NULL,
		port INTEGER NOT NULL,
		first_seen DATETIME,
		last_seen DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen);
	`
	_, err := s.db.Exec(query)
	return err
}

// Upsert inserts a device or refreshes an existing record.
func (s *SQLiteStore) Upsert(dev *registry.Device) error {
	now := time.Now().UTC()
	firstSeen := dev.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	lastSeen := dev.LastSeen
	if lastSeen.IsZero() {
		lastSeen = now
	}

	query := `
	INSERT INTO devices (id, name, version, address, port, first_seen, last_seen)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		version = excluded.version,
		address = excluded.address,
		port = excluded.port,
		last_seen = excluded.last_seen`
	_, err := s.db.Exec(query, dev.ID, dev.Name, dev.Version, dev.Address, dev.Port, firstSeen, lastSeen)
	return err
}

// Get retrieves one device by id.
func (s *SQLiteStore) Get(id string) (*registry.Device, error) {
	query := `SELECT id, name, version, address, port, first_seen, last_seen FROM devices WHERE id = ?`
	dev, err := scanDevice(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	return dev, err
}

// List retrieves every registered device, most recently seen first.
func (s *SQLiteStore) List() ([]*registry.Device, error) {
	query := `SELECT id, name, version, address, port, first_seen, last_seen FROM devices ORDER BY last_seen DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*registry.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// Delete removes a device.
func (s *SQLiteStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*registry.Device, error) {
	var dev registry.Device
	err := row.Scan(&dev.ID, &dev.Name, &dev.Version, &dev.Address, &dev.Port, &dev.FirstSeen, &dev.LastSeen)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}
