package fieldsync

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestNewStore_CreatesAllTables verifies that NewStore creates all three required tables.
func TestNewStore_CreatesAllTables(t *testing.T) {
	store := newTestStore(t)

	tables := []string{"records", "sync_queue", "metadata"}
	for _, table := range tables {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

// TestNewStore_EnablesWAL verifies that WAL mode is enabled after initialization.
func TestNewStore_EnablesWAL(t *testing.T) {
	store := newTestStore(t)

	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", journalMode)
	}
}

// TestNewStore_CreatesIndexes verifies the synced and payload-field indexes exist.
func TestNewStore_CreatesIndexes(t *testing.T) {
	store := newTestStore(t)

	expectedIndexes := []string{
		"idx_records_synced",
		"idx_records_updated_at",
		"idx_records_project",
		"idx_records_client",
		"idx_records_status",
		"idx_records_date",
		"idx_records_name",
		"idx_sync_queue_entity",
	}

	for _, idx := range expectedIndexes {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
			idx,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %q not found: %v", idx, err)
		}
	}
}

func TestStore_PutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)

	rec := Record{
		ID:        "T1",
		Data:      json.RawMessage(`{"id":"T1","title":"Inspect valve","project_id":"P1"}`),
		Synced:    false,
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Put(EntityTasks, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(EntityTasks, "T1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "T1" {
		t.Errorf("expected id T1, got %q", got.ID)
	}
	if got.Synced {
		t.Error("expected synced=false")
	}
	var payload map[string]any
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if payload["title"] != "Inspect valve" {
		t.Errorf("expected title preserved, got %v", payload["title"])
	}
}

func TestStore_PutOverwritesByID(t *testing.T) {
	store := newTestStore(t)

	put := func(title string) {
		t.Helper()
		err := store.Put(EntityTasks, Record{
			ID:   "T1",
			Data: json.RawMessage(`{"id":"T1","title":"` + title + `"}`),
		})
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	put("first")
	put("second")

	all, err := store.GetAll(EntityTasks)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record after upsert, got %d", len(all))
	}

	got, _ := store.Get(EntityTasks, "T1")
	var payload map[string]any
	json.Unmarshal(got.Data, &payload)
	if payload["title"] != "second" {
		t.Errorf("expected latest payload, got %v", payload["title"])
	}
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(EntityProjects, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	store.Put(EntityClients, Record{ID: "C1", Data: json.RawMessage(`{"id":"C1","name":"Acme"}`)})
	if err := store.Delete(EntityClients, "C1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(EntityClients, "C1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent record is not an error.
	if err := store.Delete(EntityClients, "C1"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestStore_GetByIndex(t *testing.T) {
	store := newTestStore(t)

	store.Put(EntityTasks, Record{ID: "T1", Data: json.RawMessage(`{"id":"T1","project_id":"P1"}`)})
	store.Put(EntityTasks, Record{ID: "T2", Data: json.RawMessage(`{"id":"T2","project_id":"P1"}`)})
	store.Put(EntityTasks, Record{ID: "T3", Data: json.RawMessage(`{"id":"T3","project_id":"P2"}`)})

	got, err := store.GetByIndex(EntityTasks, "by-project", "P1")
	if err != nil {
		t.Fatalf("GetByIndex failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 tasks for P1, got %d", len(got))
	}

	_, err = store.GetByIndex(EntityTasks, "by-nonsense", "x")
	if !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("expected ErrUnknownIndex, got %v", err)
	}
}

// TestStore_SyncedIndexReflectsPuts verifies the unsynced set can be
// recovered from the synced index alone, the fallback if the queue
// were ever lost.
func TestStore_SyncedIndexReflectsPuts(t *testing.T) {
	store := newTestStore(t)

	store.Put(EntityProjects, Record{ID: "P1", Synced: false, Data: json.RawMessage(`{"id":"P1"}`)})
	store.Put(EntityProjects, Record{ID: "P2", Synced: true, Data: json.RawMessage(`{"id":"P2"}`)})

	unsynced, err := store.Unsynced(EntityProjects)
	if err != nil {
		t.Fatalf("Unsynced failed: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].ID != "P1" {
		t.Fatalf("expected only P1 unsynced, got %+v", unsynced)
	}

	synced, err := store.GetByIndex(EntityProjects, "by-synced", "true")
	if err != nil {
		t.Fatalf("GetByIndex synced failed: %v", err)
	}
	if len(synced) != 1 || synced[0].ID != "P2" {
		t.Fatalf("expected only P2 synced, got %+v", synced)
	}
}

func TestStore_MarkSynced(t *testing.T) {
	store := newTestStore(t)

	store.Put(EntityTasks, Record{ID: "T1", Data: json.RawMessage(`{"id":"T1"}`)})
	if err := store.MarkSynced(EntityTasks, "T1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	got, _ := store.Get(EntityTasks, "T1")
	if !got.Synced {
		t.Error("expected synced=true after MarkSynced")
	}

	// No-op when the record was deleted locally.
	if err := store.MarkSynced(EntityTasks, "gone", time.Now().UTC()); err != nil {
		t.Errorf("MarkSynced on absent record errored: %v", err)
	}
}

func TestStore_BulkPutAtomic(t *testing.T) {
	store := newTestStore(t)

	good := []Record{
		{ID: "D1", Data: json.RawMessage(`{"id":"D1"}`)},
		{ID: "D2", Data: json.RawMessage(`{"id":"D2"}`)},
	}
	if err := store.BulkPut(EntityDocuments, good); err != nil {
		t.Fatalf("BulkPut failed: %v", err)
	}

	// A batch containing an invalid record must write nothing.
	bad := []Record{
		{ID: "D3", Data: json.RawMessage(`{"id":"D3"}`)},
		{ID: "", Data: json.RawMessage(`{}`)},
	}
	if err := store.BulkPut(EntityDocuments, bad); err == nil {
		t.Fatal("expected BulkPut with invalid record to fail")
	}

	all, _ := store.GetAll(EntityDocuments)
	if len(all) != 2 {
		t.Errorf("expected failed batch to roll back, have %d records", len(all))
	}
}

func TestStore_Clear(t *testing.T) {
	store := newTestStore(t)

	store.Put(EntityClients, Record{ID: "C1", Data: json.RawMessage(`{"id":"C1"}`)})
	store.Enqueue(EntityClients, "C1", OpCreate, json.RawMessage(`{"id":"C1"}`))

	if err := store.Clear(EntityClients); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	all, _ := store.GetAll(EntityClients)
	if len(all) != 0 {
		t.Errorf("expected empty collection, got %d", len(all))
	}

	// Queue items survive a cache clear.
	count, _ := store.QueueCount()
	if count != 1 {
		t.Errorf("expected queue untouched by Clear, got %d items", count)
	}
}

func TestStore_Metadata(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetMetadata("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing key, got %v", err)
	}

	if err := store.SetMetadata("last_sync_time", "2026-01-02T03:04:05Z"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	if err := store.SetMetadata("last_sync_time", "2026-01-02T04:04:05Z"); err != nil {
		t.Fatalf("SetMetadata overwrite failed: %v", err)
	}

	v, err := store.GetMetadata("last_sync_time")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if v != "2026-01-02T04:04:05Z" {
		t.Errorf("expected overwritten value, got %q", v)
	}
}

func TestStore_InvalidEntityRejected(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get(Entity("widgets"), "W1"); !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("Get: expected ErrInvalidEntity, got %v", err)
	}
	if err := store.Put(Entity("widgets"), Record{ID: "W1"}); !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("Put: expected ErrInvalidEntity, got %v", err)
	}
}

func TestStore_ClosedStoreErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	store.Close()

	if _, err := store.Get(EntityTasks, "T1"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := store.Put(EntityTasks, Record{ID: "T1"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.QueueCount(); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}

	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Errorf("second Close errored: %v", err)
	}
}

// TestStore_DurabilityAcrossReopen verifies records and metadata
// survive a process restart simulated by reopening the same file.
func TestStore_DurabilityAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	store.Put(EntityProjects, Record{ID: "P1", Data: json.RawMessage(`{"id":"P1","name":"Depot"}`)})
	store.SetMetadata("last_sync_time", "2026-02-03T00:00:00Z")
	store.Close()

	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(EntityProjects, "P1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.ID != "P1" {
		t.Errorf("expected P1 after reopen, got %q", got.ID)
	}

	v, err := reopened.GetMetadata("last_sync_time")
	if err != nil || v != "2026-02-03T00:00:00Z" {
		t.Errorf("expected metadata to survive reopen, got %q, %v", v, err)
	}
}
