package fieldsync

import (
	"context"
	"fmt"
	"time"
)

// Engine drains the sync queue against the remote gateway, one full
// pass per invocation. It never runs passes concurrently; callers
// guard invocation with the client's syncing flag.
type Engine struct {
	store      *Store
	gateway    Gateway
	maxRetries int
	retryDelay time.Duration
	logger     *DebugLogger

	// sleep is swapped out in tests to avoid real retry delays.
	sleep func(time.Duration)
}

// NewEngine creates a sync engine over store and gateway.
func NewEngine(store *Store, gateway Gateway, maxRetries int, retryDelay time.Duration, logger *DebugLogger) *Engine {
	return &Engine{
		store:      store,
		gateway:    gateway,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// ProcessQueue performs one pass: it snapshots the queue and processes
// every item in insertion order. Items delivered successfully are
// marked synced locally and removed; transient failures update retry
// bookkeeping in place until the ceiling is reached; permanent
// rejections are dropped immediately with a terminal error recorded.
//
// Delivery is at-least-once: a crash between gateway success and local
// removal redelivers the item on the next pass.
func (e *Engine) ProcessQueue(ctx context.Context) (SyncResult, error) {
	items, err := e.store.ListQueue()
	if err != nil {
		return SyncResult{}, fmt.Errorf("engine: snapshot queue: %w", err)
	}

	var result SyncResult
	for _, item := range items {
		if err := e.processItem(ctx, item); err != nil {
			result.Failed++
			if err := e.recordFailure(item, err); err != nil {
				return result, err
			}
		} else {
			result.Processed++
			if err := e.store.RemoveQueueItem(item.ID); err != nil {
				return result, fmt.Errorf("engine: remove item %d: %w", item.ID, err)
			}
		}

		// Pause after items that were already retried before this pass.
		if item.Retries > 0 {
			e.sleep(e.retryDelay)
		}
	}

	remaining, err := e.store.QueueCount()
	if err != nil {
		return result, fmt.Errorf("engine: count remaining: %w", err)
	}
	result.Remaining = remaining

	return result, nil
}

func (e *Engine) processItem(ctx context.Context, item QueueItem) error {
	// Queue rows predating a collection rename can carry a tag the
	// closed entity set no longer knows. Delivery can never succeed.
	if !item.Entity.IsValid() {
		return Permanent(fmt.Errorf("%w: %s", ErrInvalidEntity, item.Entity))
	}

	resource := item.Entity.Resource()

	var err error
	switch item.Operation {
	case OpCreate:
		err = e.gateway.Insert(ctx, resource, item.Payload)
	case OpUpdate:
		err = e.gateway.Update(ctx, resource, item.EntityID, item.Payload)
	case OpDelete:
		err = e.gateway.Delete(ctx, resource, item.EntityID)
	default:
		err = Permanent(fmt.Errorf("%w: %s", ErrInvalidOperation, item.Operation))
	}
	if err != nil {
		return &SyncError{
			Entity:    item.Entity,
			Operation: item.Operation,
			EntityID:  item.EntityID,
			Err:       err,
		}
	}

	// No-op when the record was itself deleted; a still-queued delete
	// for the same id wins at its own turn.
	if item.Operation != OpDelete {
		if err := e.store.MarkSynced(item.Entity, item.EntityID, time.Now().UTC()); err != nil {
			return err
		}
	}

	e.logger.Log("engine: delivered %s %s/%s (queue id %d)", item.Operation, item.Entity, item.EntityID, item.ID)
	return nil
}

// recordFailure updates retry bookkeeping for a failed item, dropping
// it once the retry ceiling is exceeded or the failure is permanent.
func (e *Engine) recordFailure(item QueueItem, cause error) error {
	retries := item.Retries + 1

	if IsPermanent(cause) {
		e.logger.Log("engine: dropping %s %s/%s (queue id %d): permanent rejection: %v",
			item.Operation, item.Entity, item.EntityID, item.ID, cause)
		return e.store.RemoveQueueItem(item.ID)
	}

	if retries >= e.maxRetries {
		e.logger.Log("engine: dropping %s %s/%s (queue id %d): retry ceiling reached: %v",
			item.Operation, item.Entity, item.EntityID, item.ID, cause)
		return e.store.RemoveQueueItem(item.ID)
	}

	e.logger.Log("engine: retry %d/%d for %s %s/%s (queue id %d): %v",
		retries, e.maxRetries, item.Operation, item.Entity, item.EntityID, item.ID, cause)
	return e.store.UpdateQueueRetry(item.ID, retries, cause.Error())
}
