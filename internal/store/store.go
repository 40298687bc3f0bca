package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

//go:embed schema.sql
var schemaSQL string

// Store provides durable storage for bundle records.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens the bundle database at the given path. Applies
// required pragmas and the schema automatically; safe to call repeatedly.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent install transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// SaveStorageBundleInfo upserts one bundle record. Called before the
// in-memory map is mutated.
func (s *Store) SaveStorageBundleInfo(record *types.BundleRecord) error {
	data, err := sonic.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle %s: %w", record.BundleName, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO bundle_infos (bundle_name, record, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(bundle_name) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		record.BundleName, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save bundle %s: %w", record.BundleName, err)
	}
	return nil
}

// DeleteStorageBundleInfo removes one bundle record.
func (s *Store) DeleteStorageBundleInfo(bundleName string) error {
	if _, err := s.db.Exec(`DELETE FROM bundle_infos WHERE bundle_name = ?`, bundleName); err != nil {
		return fmt.Errorf("failed to delete bundle %s: %w", bundleName, err)
	}
	return nil
}

// LoadAllData loads every persisted bundle record at startup.
func (s *Store) LoadAllData() (map[string]*types.BundleRecord, error) {
	rows, err := s.db.Query(`SELECT bundle_name, record FROM bundle_infos`)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundles: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*types.BundleRecord)
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan bundle row: %w", err)
		}
		var record types.BundleRecord
		if err := sonic.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bundle %s: %w", name, err)
		}
		records[name] = &record
	}
	return records, rows.Err()
}

// SavePreInstallRecord upserts a system bundle's recovery record.
func (s *Store) SavePreInstallRecord(record *types.PreInstallRecord) error {
	data, err := sonic.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal preinstall %s: %w", record.BundleName, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO preinstall_infos (bundle_name, record) VALUES (?, ?)
		 ON CONFLICT(bundle_name) DO UPDATE SET record = excluded.record`,
		record.BundleName, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save preinstall %s: %w", record.BundleName, err)
	}
	return nil
}

// GetPreInstallRecord loads one recovery record.
func (s *Store) GetPreInstallRecord(bundleName string) (*types.PreInstallRecord, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT record FROM preinstall_infos WHERE bundle_name = ?`, bundleName).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preinstall %s: %w", bundleName, err)
	}

	var record types.PreInstallRecord
	if err := sonic.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preinstall %s: %w", bundleName, err)
	}
	return &record, nil
}

// DeletePreInstallRecord removes a recovery record.
func (s *Store) DeletePreInstallRecord(bundleName string) error {
	if _, err := s.db.Exec(`DELETE FROM preinstall_infos WHERE bundle_name = ?`, bundleName); err != nil {
		return fmt.Errorf("failed to delete preinstall %s: %w", bundleName, err)
	}
	return nil
}

// SaveBundleID records one bundle id assignment; implements id.Store.
func (s *Store) SaveBundleID(bundleName string, id uint32) error {
	_, err := s.db.Exec(
		`INSERT INTO bundle_ids (bundle_name, bundle_id) VALUES (?, ?)
		 ON CONFLICT(bundle_name) DO UPDATE SET bundle_id = excluded.bundle_id`,
		bundleName, id,
	)
	if err != nil {
		return fmt.Errorf("failed to save bundle id for %s: %w", bundleName, err)
	}
	return nil
}

// DeleteBundleID frees one bundle id assignment; implements id.Store.
func (s *Store) DeleteBundleID(bundleName string) error {
	if _, err := s.db.Exec(`DELETE FROM bundle_ids WHERE bundle_name = ?`, bundleName); err != nil {
		return fmt.Errorf("failed to delete bundle id for %s: %w", bundleName, err)
	}
	return nil
}

// LoadBundleIDs loads the full allocation table at startup.
func (s *Store) LoadBundleIDs() (map[string]uint32, error) {
	rows, err := s.db.Query(`SELECT bundle_name, bundle_id FROM bundle_ids`)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]uint32)
	for rows.Next() {
		var name string
		var bundleID uint32
		if err := rows.Scan(&name, &bundleID); err != nil {
			return nil, fmt.Errorf("failed to scan bundle id row: %w", err)
		}
		ids[name] = bundleID
	}
	return ids, rows.Err()
}
