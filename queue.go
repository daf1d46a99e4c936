package fieldsync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Enqueue appends a pending mutation to the sync queue with retries = 0
// and the next insertion-order id. It returns immediately and never
// waits for the network.
func (s *Store) Enqueue(entity Entity, entityID string, op Operation, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.enqueueTx(s.db, entity, entityID, op, payload)
}

func (s *Store) enqueueTx(e execer, entity Entity, entityID string, op Operation, payload json.RawMessage) error {
	if !entity.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidEntity, entity)
	}
	if !op.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidOperation, op)
	}

	var payloadStr *string
	if len(payload) > 0 {
		str := string(payload)
		payloadStr = &str
	}

	_, err := e.Exec(`
		INSERT INTO sync_queue (entity, entity_id, operation, payload, queued_at, retries)
		VALUES (?, ?, ?, ?, ?, 0)
	`, string(entity), entityID, string(op), payloadStr, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: enqueue %s %s/%s: %w", op, entity, entityID, err)
	}
	return nil
}

// PutAndEnqueue upserts a record and appends the matching queue item in
// one transaction. This is the mutation entry point for local writes
// that must eventually reach the remote service.
func (s *Store) PutAndEnqueue(entity Entity, rec Record, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if op != OpCreate && op != OpUpdate {
		return fmt.Errorf("%w: %s", ErrInvalidOperation, op)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	rec.Synced = false
	if err := s.putTx(tx, entity, rec); err != nil {
		return err
	}
	if err := s.enqueueTx(tx, entity, rec.ID, op, rec.Data); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteAndEnqueue removes a record locally and appends a delete queue
// item in one transaction. At drain time the delete wins over any
// earlier queued state for the same id.
func (s *Store) DeleteAndEnqueue(entity Entity, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.deleteTx(tx, entity, id); err != nil {
		return err
	}
	if err := s.enqueueTx(tx, entity, id, OpDelete, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// ListQueue returns all pending queue items ordered by insertion id
// ascending.
func (s *Store) ListQueue() ([]QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, entity, entity_id, operation, payload, queued_at, retries, error
		FROM sync_queue ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list queue: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var (
			item     QueueItem
			entity   string
			op       string
			payload  sql.NullString
			queuedAt string
			errMsg   sql.NullString
		)
		if err := rows.Scan(&item.ID, &entity, &item.EntityID, &op, &payload, &queuedAt, &item.Retries, &errMsg); err != nil {
			return nil, err
		}
		item.Entity = Entity(entity)
		item.Operation = Operation(op)
		if payload.Valid {
			item.Payload = json.RawMessage(payload.String)
		}
		item.QueuedAt, _ = time.Parse(time.RFC3339Nano, queuedAt)
		if errMsg.Valid {
			item.Error = errMsg.String
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// QueueCount returns the number of pending queue items.
func (s *Store) QueueCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count queue: %w", err)
	}
	return count, nil
}

// RemoveQueueItem deletes a queue item by id. Used only by the sync
// engine after processing the item.
func (s *Store) RemoveQueueItem(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: remove queue item %d: %w", id, err)
	}
	return nil
}

// UpdateQueueRetry persists retry bookkeeping for a failed item,
// leaving it queued for the next pass. Used only by the sync engine.
func (s *Store) UpdateQueueRetry(id int64, retries int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		UPDATE sync_queue SET retries = ?, error = ? WHERE id = ?
	`, retries, errMsg, id)
	if err != nil {
		return fmt.Errorf("store: update queue item %d: %w", id, err)
	}
	return nil
}
