package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Client is the offline facade: the single mutation entry point and
// read/trigger surface the rest of the application uses. It owns the
// store handle, the sync engine, the connectivity monitor, and the
// autosync scheduler, and releases all of them on Close.
type Client struct {
	config    Config
	store     *Store
	gateway   Gateway
	engine    *Engine
	monitor   *Monitor
	probe     *ProbeSignal
	scheduler *Scheduler
	logger    *DebugLogger

	online  atomic.Bool
	syncing atomic.Bool
	closed  atomic.Bool

	mu     sync.Mutex
	status SyncStatus

	stopRefresh chan struct{}
	refreshDone chan struct{}
}

// New creates a client from cfg. When GatewayURL is set, mutations
// drain against the central service over HTTP and connectivity is
// derived from a periodic probe of the service host; otherwise the
// client runs offline-only and mutations queue up until a later
// process has a gateway.
//
// A store that fails to open is not fatal: the client degrades to
// online-only operation and reports OfflineReady=false.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var gateway Gateway
	var signal ConnectivitySignal
	var probe *ProbeSignal
	if !cfg.IsOffline() {
		gateway = NewHTTPGateway(cfg.GatewayURL, cfg.APIKey)
		probe = NewProbeSignal(cfg.GatewayURL, cfg.StatusInterval)
		probe.Start()
		signal = probe
	}

	c, err := NewWithGateway(cfg, gateway, signal)
	if err != nil {
		if probe != nil {
			probe.Stop()
		}
		return nil, err
	}
	c.probe = probe
	return c, nil
}

// NewWithGateway creates a client with an injected gateway and
// connectivity signal. gateway may be nil for offline-only operation;
// signal may be nil when connectivity never changes.
func NewWithGateway(cfg Config, gateway Gateway, signal ConnectivitySignal) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		config:      cfg,
		gateway:     gateway,
		logger:      logger,
		stopRefresh: make(chan struct{}),
		refreshDone: make(chan struct{}),
	}

	store, err := NewStore(cfg.Path)
	if err != nil {
		// Degrade to online-only operation rather than failing startup.
		logger.Log("client: local store unavailable: %v", err)
	} else {
		c.store = store
	}

	c.online.Store(gateway != nil)

	if c.store != nil && gateway != nil {
		c.engine = NewEngine(c.store, gateway, cfg.MaxRetries, cfg.RetryDelay, logger)
	}

	if signal != nil {
		c.monitor = NewMonitor(signal, c.online.Load(), c.setOnline, c.onReconnect, logger)
		c.monitor.Start()
	}

	c.scheduler = NewScheduler(cfg.SyncInterval, c.autosyncTick, logger)
	if c.engine != nil && cfg.AutoSync {
		c.scheduler.Start(0)
	}

	c.RefreshStatus()
	go c.refreshLoop()

	return c, nil
}

// OfflineReady reports whether the local store is available.
func (c *Client) OfflineReady() bool {
	return c.store != nil
}

// Store exposes the local store for direct reads. Nil when the store
// is unavailable.
func (c *Client) Store() *Store {
	return c.store
}

// Save upserts a record locally and queues a create or update for the
// remote service, in one transaction. A record without an id gets a
// fresh ULID. The operation is create when the id was not present
// locally, update otherwise.
func (c *Client) Save(entity Entity, rec Record) (*Record, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if c.store == nil {
		return nil, ErrStoreUnavailable
	}

	op := OpUpdate
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
		op = OpCreate
	} else if _, err := c.store.Get(entity, rec.ID); errors.Is(err, ErrNotFound) {
		op = OpCreate
	}

	rec.Synced = false
	rec.UpdatedAt = time.Now().UTC()

	if err := c.store.PutAndEnqueue(entity, rec, op); err != nil {
		return nil, err
	}

	c.RefreshStatus()
	return &rec, nil
}

// Remove deletes a record locally and queues the remote delete.
func (c *Client) Remove(entity Entity, id string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.store == nil {
		return ErrStoreUnavailable
	}

	if err := c.store.DeleteAndEnqueue(entity, id); err != nil {
		return err
	}

	c.RefreshStatus()
	return nil
}

// Enqueue appends a raw mutation: create and update also upsert the
// payload locally, delete removes the local record. This mirrors Save
// and Remove for callers that manage record ids themselves.
func (c *Client) Enqueue(entity Entity, entityID string, op Operation, payload json.RawMessage) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.store == nil {
		return ErrStoreUnavailable
	}

	var err error
	switch op {
	case OpCreate, OpUpdate:
		err = c.store.PutAndEnqueue(entity, Record{ID: entityID, Data: payload}, op)
	case OpDelete:
		err = c.store.DeleteAndEnqueue(entity, entityID)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidOperation, op)
	}
	if err != nil {
		return err
	}

	c.RefreshStatus()
	return nil
}

// Get retrieves a locally cached record.
func (c *Client) Get(entity Entity, id string) (*Record, error) {
	if c.store == nil {
		return nil, ErrStoreUnavailable
	}
	return c.store.Get(entity, id)
}

// GetAll retrieves every locally cached record in a collection.
func (c *Client) GetAll(entity Entity) ([]Record, error) {
	if c.store == nil {
		return nil, ErrStoreUnavailable
	}
	return c.store.GetAll(entity)
}

// GetByIndex retrieves cached records via a declared secondary index.
func (c *Client) GetByIndex(entity Entity, indexName, key string) ([]Record, error) {
	if c.store == nil {
		return nil, ErrStoreUnavailable
	}
	return c.store.GetByIndex(entity, indexName, key)
}

// BulkSave caches records fetched from the remote service in one
// transaction, without queueing mutations. Records are stored synced.
func (c *Client) BulkSave(entity Entity, recs []Record) error {
	if c.store == nil {
		return ErrStoreUnavailable
	}
	for i := range recs {
		recs[i].Synced = true
	}
	return c.store.BulkPut(entity, recs)
}

// Clear drops the local cache for a collection. Pending queue items
// are untouched.
func (c *Client) Clear(entity Entity) error {
	if c.store == nil {
		return ErrStoreUnavailable
	}
	return c.store.Clear(entity)
}

// SyncNow triggers one queue pass if the client is online and no pass
// is in flight; otherwise it returns a zero result immediately. The
// caller of a rejected trigger does not wait for the running pass.
func (c *Client) SyncNow(ctx context.Context) (SyncResult, error) {
	if c.closed.Load() {
		return SyncResult{}, ErrClientClosed
	}
	if c.engine == nil || !c.online.Load() {
		return SyncResult{}, nil
	}
	if !c.syncing.CompareAndSwap(false, true) {
		return SyncResult{}, nil
	}
	defer c.syncing.Store(false)

	result, err := c.engine.ProcessQueue(ctx)
	if err != nil {
		c.logger.Log("client: sync pass failed: %v", err)
		c.RefreshStatus()
		return result, err
	}

	// An empty pass leaves last_sync_time untouched.
	if result.Processed > 0 || result.Failed > 0 {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if err := c.store.SetMetadata(MetaLastSyncTime, now); err != nil {
			c.logger.Log("client: record last sync time: %v", err)
		}
	}

	c.logger.Log("client: sync pass done: processed=%d failed=%d remaining=%d",
		result.Processed, result.Failed, result.Remaining)
	c.RefreshStatus()
	return result, nil
}

// Status returns the current aggregate sync status. Counters come from
// the most recent refresh; the online and syncing flags are live.
func (c *Client) Status() SyncStatus {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()

	status.IsOnline = c.online.Load()
	status.IsSyncing = c.syncing.Load()
	status.OfflineReady = c.store != nil
	return status
}

// RefreshStatus recomputes the pending count and last-sync time from
// the store.
func (c *Client) RefreshStatus() {
	var pending int
	var lastSync *time.Time

	if c.store != nil {
		if n, err := c.store.QueueCount(); err == nil {
			pending = n
		}
		if v, err := c.store.GetMetadata(MetaLastSyncTime); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				lastSync = &t
			}
		}
	}

	c.mu.Lock()
	c.status.Pending = pending
	c.status.LastSync = lastSync
	c.mu.Unlock()
}

// StartAutoSync arms the periodic sync timer. A zero interval keeps
// the configured period. Starting while armed restarts the timer.
func (c *Client) StartAutoSync(interval time.Duration) {
	if c.closed.Load() || c.engine == nil {
		return
	}
	c.scheduler.Start(interval)
}

// StopAutoSync disarms the periodic sync timer. A pass in flight runs
// to completion.
func (c *Client) StopAutoSync() {
	c.scheduler.Stop()
}

// Close stops the scheduler, monitor, probe and refresh loop, then
// closes the store. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.scheduler.Stop()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.probe != nil {
		c.probe.Stop()
	}

	close(c.stopRefresh)
	<-c.refreshDone

	c.logger.Close()

	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Client) setOnline(online bool) {
	c.online.Store(online)
}

// onReconnect drains the queue once after connectivity returns. The
// result matters only for logging; failures stay queued.
func (c *Client) onReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := c.SyncNow(ctx)
	if err != nil {
		c.logger.Log("client: reconnect sync failed: %v", err)
		return
	}
	c.logger.Log("client: reconnect sync: processed=%d failed=%d remaining=%d",
		result.Processed, result.Failed, result.Remaining)
}

// autosyncTick runs one pass per timer period while online. Offline
// ticks are skipped silently; an in-flight pass makes this a no-op via
// the syncing flag.
func (c *Client) autosyncTick() {
	if !c.online.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := c.SyncNow(ctx); err != nil {
		c.logger.Log("client: autosync pass failed: %v", err)
	}
}

func (c *Client) refreshLoop() {
	defer close(c.refreshDone)

	ticker := time.NewTicker(c.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopRefresh:
			return
		case <-ticker.C:
			c.RefreshStatus()
		}
	}
}
