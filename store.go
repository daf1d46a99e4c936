package fieldsync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/fieldsync/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// indexSynced is the synced-flag index every collection carries in
// addition to the indexes declared by Entity.Indexes.
const indexSynced = "by-synced"

// MetaLastSyncTime is the metadata key holding the completion time of
// the most recent non-empty queue pass.
const MetaLastSyncTime = "last_sync_time"

// Store manages the local SQLite database holding cached records, the
// sync queue, and process-wide metadata.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewStore opens or creates a local store at path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value, updated_at) VALUES ('schema_version', ?, ?)
	`, schemaVersion, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Get retrieves a record by id from a collection.
func (s *Store) Get(entity Entity, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntity, entity)
	}

	row := s.db.QueryRow(`
		SELECT id, data, synced, updated_at FROM records
		WHERE collection = ? AND id = ?
	`, string(entity), id)

	return scanRecord(row)
}

// GetAll retrieves every record in a collection. Order is not significant.
func (s *Store) GetAll(entity Entity) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntity, entity)
	}

	return s.queryRecords(`
		SELECT id, data, synced, updated_at FROM records WHERE collection = ?
	`, string(entity))
}

// GetByIndex retrieves records matching a declared secondary index.
// The index name must be one of the entity's Indexes, or "by-synced"
// with key "true" or "false".
func (s *Store) GetByIndex(entity Entity, indexName, key string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntity, entity)
	}

	if indexName == indexSynced {
		synced := 0
		if key == "true" {
			synced = 1
		}
		return s.queryRecords(`
			SELECT id, data, synced, updated_at FROM records
			WHERE collection = ? AND synced = ?
		`, string(entity), synced)
	}

	field, ok := entity.Indexes()[indexName]
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnknownIndex, indexName, entity)
	}

	return s.queryRecords(fmt.Sprintf(`
		SELECT id, data, synced, updated_at FROM records
		WHERE collection = ? AND json_extract(data, '$.%s') = ?
	`, field), string(entity), key)
}

// Unsynced retrieves all records in a collection not yet acknowledged by
// the remote service. Used to recover the pending set if the queue were
// ever lost.
func (s *Store) Unsynced(entity Entity) ([]Record, error) {
	return s.GetByIndex(entity, indexSynced, "false")
}

// Put upserts a record into a collection. Atomic per call.
func (s *Store) Put(entity Entity, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.putTx(s.db, entity, rec)
}

// execer abstracts *sql.DB and *sql.Tx for writes shared between
// standalone and transactional paths.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) putTx(e execer, entity Entity, rec Record) error {
	if !entity.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidEntity, entity)
	}
	if rec.ID == "" {
		return fmt.Errorf("store: put %s: missing record id", entity)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data := rec.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	_, err := e.Exec(`
		INSERT INTO records (collection, id, data, synced, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = excluded.data,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, string(entity), rec.ID, string(data), boolToInt(rec.Synced), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", entity, rec.ID, err)
	}
	return nil
}

// Delete removes a record from a collection. Deleting an absent record
// is not an error.
func (s *Store) Delete(entity Entity, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.deleteTx(s.db, entity, id)
}

func (s *Store) deleteTx(e execer, entity Entity, id string) error {
	if !entity.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidEntity, entity)
	}
	_, err := e.Exec(`DELETE FROM records WHERE collection = ? AND id = ?`, string(entity), id)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", entity, id, err)
	}
	return nil
}

// BulkPut upserts records in one transaction, all-or-nothing.
func (s *Store) BulkPut(entity Entity, recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	for _, rec := range recs {
		if err := s.putTx(tx, entity, rec); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Clear removes every record in a collection. Queue items targeting the
// collection are untouched.
func (s *Store) Clear(entity Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if !entity.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidEntity, entity)
	}

	_, err := s.db.Exec(`DELETE FROM records WHERE collection = ?`, string(entity))
	return err
}

// MarkSynced flags a record as acknowledged by the remote service.
// A no-op when the record was deleted locally in the meantime.
func (s *Store) MarkSynced(entity Entity, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		UPDATE records SET synced = 1, updated_at = ?
		WHERE collection = ? AND id = ?
	`, at.UTC().Format(time.RFC3339Nano), string(entity), id)
	return err
}

// GetMetadata returns the value for a metadata key, or ErrNotFound.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata writes a metadata key, overwriting any previous value.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Stats returns store statistics.
func (s *Store) Stats() (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return nil, err
	}

	var pending int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&pending); err != nil {
		return nil, err
	}

	var lastSyncStr sql.NullString
	s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", MetaLastSyncTime).Scan(&lastSyncStr)

	var lastSync time.Time
	if lastSyncStr.Valid {
		lastSync, _ = time.Parse(time.RFC3339Nano, lastSyncStr.String)
	}

	return &StoreStats{
		RecordCount:   count,
		PendingSync:   pending,
		LastSync:      lastSync,
		SchemaVersion: schemaVersion,
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func (s *Store) queryRecords(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}

	return results, rows.Err()
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec       Record
		data      string
		synced    int
		updatedAt string
	)

	err := sc.Scan(&rec.ID, &data, &synced, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Data = json.RawMessage(data)
	rec.Synced = synced != 0
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
