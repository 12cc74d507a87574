// Package store provides the durable on-device record store backed by
// an embedded SQLite database.
//
// Each collection is a table of JSON records keyed by string id, with
// secondary indexes as SQLite expression indexes over json_extract.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
	"github.com/yuchilin/plannerd/internal/logging"
)

const dbFileName = "plannerd.db"

// Store is the process-wide local record store. Concurrent calls
// interleave via SQLite's per-statement transactions; no cross-call
// transaction is exposed.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store under dataDir and ensures every
// declared collection and index exists.
//
// A schema that cannot be read is treated as corrupt: the database
// files are removed and the store recreated from scratch. That trade
// favors availability over durability of a broken local cache.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "failed to create data directory", err)
	}

	path := filepath.Join(dataDir, dbFileName)

	db, err := openDB(path)
	if err != nil && isNotADatabase(err) {
		logging.Warn("local database file unreadable, recreating store",
			map[string]interface{}{"path": path})
		s := &Store{path: path}
		if resetErr := s.reset(); resetErr != nil {
			return nil, resetErr
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}

	if err := s.ensureSchema(); err != nil {
		if !apperrors.Is(err, apperrors.ErrSchemaCorrupt) {
			db.Close()
			return nil, err
		}

		logging.Warn("local schema inconsistent, recreating store",
			map[string]interface{}{"path": path})

		if err := s.reset(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// openDB opens the SQLite file with the connection settings every
// plannerd database uses: single writer, WAL, foreign keys on.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "failed to open database", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStore, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStore, "failed to enable foreign keys", err)
	}

	return db, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ensureSchema creates the meta table, verifies the stored version and
// creates any missing collections and indexes.
func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		id INTEGER PRIMARY KEY CHECK(id = 1),
		version INTEGER NOT NULL
	);`); err != nil {
		return apperrors.Wrap(apperrors.ErrSchemaCorrupt, "failed to create schema_info", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info WHERE id = 1").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		version = 0
	case err != nil:
		return apperrors.Wrap(apperrors.ErrSchemaCorrupt, "failed to read schema version", err)
	}

	if version > schemaVersion {
		// Database written by a newer build; treat as inconsistent.
		return apperrors.New(apperrors.ErrSchemaCorrupt,
			fmt.Sprintf("schema version %d is newer than supported %d", version, schemaVersion))
	}

	for _, spec := range collections {
		if err := s.createCollection(spec); err != nil {
			return apperrors.Wrap(apperrors.ErrSchemaCorrupt,
				fmt.Sprintf("failed to ensure collection %s", spec.name), err)
		}
	}

	if version < schemaVersion {
		if _, err := s.db.Exec(
			"INSERT INTO schema_info (id, version) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET version = ?",
			schemaVersion, schemaVersion); err != nil {
			return apperrors.Wrap(apperrors.ErrSchemaCorrupt, "failed to record schema version", err)
		}
	}

	return nil
}

// createCollection creates the collection table and its expression
// indexes when missing.
func (s *Store) createCollection(spec collectionSpec) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);`, spec.name)
	if _, err := s.db.Exec(query); err != nil {
		return err
	}

	for _, field := range spec.indexes {
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (json_extract(data, '$.%s'));`,
			indexName(spec.name, field), spec.name, field)
		if _, err := s.db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

func indexName(collection, field string) string {
	return "idx_" + collection + "_" + strings.ToLower(field)
}

// reset removes the database files and recreates a fresh schema. All
// locally cached data is lost.
func (s *Store) reset() error {
	if s.db != nil {
		s.db.Close()
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return apperrors.Wrap(apperrors.ErrStore, "failed to remove corrupt database", err)
		}
	}

	db, err := openDB(s.path)
	if err != nil {
		return err
	}
	s.db = db

	if err := s.ensureSchema(); err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "failed to recreate schema", err)
	}

	return nil
}

// Get loads the record with the given id into out. The second return
// is false when the record is absent.
func (s *Store) Get(collection, id string, out interface{}) (bool, error) {
	if _, ok := specFor(collection); !ok {
		return false, unknownCollection(collection)
	}

	var data []byte
	query := fmt.Sprintf("SELECT data FROM %q WHERE id = ?", collection)
	err := s.db.QueryRow(query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStore, "get failed", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStore, "record is not valid JSON", err)
	}
	return true, nil
}

// GetAll returns the raw JSON of every record in the collection, in
// arbitrary order.
func (s *Store) GetAll(collection string) ([]json.RawMessage, error) {
	if _, ok := specFor(collection); !ok {
		return nil, unknownCollection(collection)
	}

	query := fmt.Sprintf("SELECT data FROM %q", collection)
	return s.queryRecords(query)
}

// GetByIndex returns the raw JSON of records whose indexed field equals
// value. The field must be a declared index for the collection.
func (s *Store) GetByIndex(collection, field string, value interface{}) ([]json.RawMessage, error) {
	spec, ok := specFor(collection)
	if !ok {
		return nil, unknownCollection(collection)
	}
	if !spec.hasIndex(field) {
		return nil, apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("no index %q on collection %q", field, collection))
	}

	query := fmt.Sprintf("SELECT data FROM %q WHERE json_extract(data, '$.%s') = ?", collection, field)
	return s.queryRecords(query, indexValue(value))
}

// indexValue maps Go values to what json_extract yields: JSON booleans
// come back as 0/1 integers.
func indexValue(value interface{}) interface{} {
	if b, ok := value.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return value
}

func (s *Store) queryRecords(query string, args ...interface{}) ([]json.RawMessage, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "query failed", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStore, "scan failed", err)
		}
		records = append(records, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "row iteration failed", err)
	}
	return records, nil
}

// Add inserts a new record, failing with DUPLICATE when the id exists.
func (s *Store) Add(collection, id string, v interface{}) error {
	if _, ok := specFor(collection); !ok {
		return unknownCollection(collection)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "record is not JSON-serializable", err)
	}

	query := fmt.Sprintf("INSERT INTO %q (id, data) VALUES (?, ?)", collection)
	if _, err := s.db.Exec(query, id, string(data)); err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.ErrDuplicate,
				fmt.Sprintf("record %q already exists in %q", id, collection))
		}
		return apperrors.Wrap(apperrors.ErrStore, "add failed", err)
	}
	return nil
}

// Put upserts a record by id.
func (s *Store) Put(collection, id string, v interface{}) error {
	if _, ok := specFor(collection); !ok {
		return unknownCollection(collection)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "record is not JSON-serializable", err)
	}

	query := fmt.Sprintf(
		"INSERT INTO %q (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		collection)
	if _, err := s.db.Exec(query, id, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "put failed", err)
	}
	return nil
}

// Delete removes a record by id. Deleting an absent record is a no-op.
func (s *Store) Delete(collection, id string) error {
	if _, ok := specFor(collection); !ok {
		return unknownCollection(collection)
	}

	query := fmt.Sprintf("DELETE FROM %q WHERE id = ?", collection)
	if _, err := s.db.Exec(query, id); err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "delete failed", err)
	}
	return nil
}

func unknownCollection(name string) error {
	return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown collection %q", name))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNotADatabase(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not a database")
}
