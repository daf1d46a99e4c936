package fieldsync

import (
	"encoding/json"
	"time"
)

// Entity identifies a domain collection tracked for offline sync.
// The set is closed: adding a collection means adding a constant here,
// its resource mapping in Resource, and any secondary indexes in Indexes.
type Entity string

const (
	EntityProjects    Entity = "projects"
	EntityTasks       Entity = "tasks"
	EntityTimeEntries Entity = "timeEntries"
	EntityDocuments   Entity = "documents"
	EntityClients     Entity = "clients"
)

// ValidEntities returns all known entity collections.
func ValidEntities() []Entity {
	return []Entity{
		EntityProjects,
		EntityTasks,
		EntityTimeEntries,
		EntityDocuments,
		EntityClients,
	}
}

// IsValid checks if the entity is a known collection.
func (e Entity) IsValid() bool {
	for _, valid := range ValidEntities() {
		if e == valid {
			return true
		}
	}
	return false
}

// Resource returns the remote API resource name for the entity.
// Collection names are camelCase locally but snake_case on the wire.
func (e Entity) Resource() string {
	if e == EntityTimeEntries {
		return "time_entries"
	}
	return string(e)
}

// Indexes returns the secondary index names available for the entity,
// mapped to the JSON field of the record payload they cover. The "synced"
// index exists for every entity and is not listed here.
func (e Entity) Indexes() map[string]string {
	switch e {
	case EntityProjects:
		return map[string]string{"by-client": "client_id", "by-status": "status"}
	case EntityTasks:
		return map[string]string{"by-project": "project_id", "by-status": "status"}
	case EntityTimeEntries:
		return map[string]string{"by-project": "project_id", "by-date": "date"}
	case EntityDocuments:
		return map[string]string{"by-project": "project_id"}
	case EntityClients:
		return map[string]string{"by-name": "name"}
	}
	return nil
}

// Operation is the kind of remote mutation a queue item carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsValid checks if the operation is one of create, update, delete.
func (o Operation) IsValid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// Record is a locally cached domain entity instance. Fields beyond the
// sync bookkeeping are opaque to this package and live in Data.
type Record struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Synced    bool            `json:"synced"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// QueueItem is one pending remote mutation in the sync queue.
type QueueItem struct {
	ID        int64           `json:"id"`
	Entity    Entity          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Operation Operation       `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	QueuedAt  time.Time       `json:"queued_at"`
	Retries   int             `json:"retries"`
	Error     string          `json:"error,omitempty"`
}

// SyncResult contains the statistics of one queue pass.
type SyncResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// SyncStatus is the aggregate state exposed to the rest of the application.
type SyncStatus struct {
	Pending      int        `json:"pending"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	IsOnline     bool       `json:"is_online"`
	IsSyncing    bool       `json:"is_syncing"`
	OfflineReady bool       `json:"offline_ready"`
}

// StoreStats contains statistics about the local store.
type StoreStats struct {
	RecordCount   int       `json:"record_count"`
	PendingSync   int       `json:"pending_sync"`
	LastSync      time.Time `json:"last_sync"`
	SchemaVersion string    `json:"schema_version"`
}
