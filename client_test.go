package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

type fakeSignal struct {
	ch chan bool
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{ch: make(chan bool)}
}

func (s *fakeSignal) Events() <-chan bool { return s.ch }

func newTestClient(t *testing.T, gateway Gateway, signal ConnectivitySignal) *Client {
	t.Helper()
	cfg := Config{
		Path:       filepath.Join(t.TempDir(), "test.db"),
		RetryDelay: time.Millisecond,
	}
	client, err := NewWithGateway(cfg, gateway, signal)
	if err != nil {
		t.Fatalf("NewWithGateway failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_SaveAssignsIDAndQueues(t *testing.T) {
	client := newTestClient(t, nil, nil)

	rec, err := client.Save(EntityTasks, Record{Data: json.RawMessage(`{"title":"Inspect valve"}`)})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected generated record id")
	}

	status := client.Status()
	if status.Pending != 1 {
		t.Errorf("expected pending=1, got %d", status.Pending)
	}

	items, _ := client.Store().ListQueue()
	if len(items) != 1 || items[0].Operation != OpCreate {
		t.Fatalf("expected one create item, got %+v", items)
	}

	// A second save of the same id becomes an update.
	if _, err := client.Save(EntityTasks, Record{ID: rec.ID, Data: json.RawMessage(`{"title":"Inspect valve","done":true}`)}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	items, _ = client.Store().ListQueue()
	if len(items) != 2 || items[1].Operation != OpUpdate {
		t.Fatalf("expected update queued second, got %+v", items)
	}
}

func TestClient_EnqueueDispatch(t *testing.T) {
	client := newTestClient(t, nil, nil)

	if err := client.Enqueue(EntityClients, "C1", OpCreate, json.RawMessage(`{"id":"C1","name":"Acme"}`)); err != nil {
		t.Fatalf("Enqueue create failed: %v", err)
	}
	if _, err := client.Get(EntityClients, "C1"); err != nil {
		t.Errorf("create did not write the local record: %v", err)
	}

	if err := client.Enqueue(EntityClients, "C1", OpDelete, nil); err != nil {
		t.Fatalf("Enqueue delete failed: %v", err)
	}
	if _, err := client.Get(EntityClients, "C1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete did not remove the local record: %v", err)
	}

	if err := client.Enqueue(EntityClients, "C1", Operation("merge"), nil); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestClient_SyncNowOfflineIsNoop(t *testing.T) {
	client := newTestClient(t, nil, nil)

	client.Save(EntityTasks, Record{Data: json.RawMessage(`{"title":"queued"}`)})

	result, err := client.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if result != (SyncResult{}) {
		t.Errorf("expected zero result with no gateway, got %+v", result)
	}
	if client.Status().Pending != 1 {
		t.Error("offline sync must leave the queue untouched")
	}
}

// TestClient_EmptyPassLeavesLastSyncUntouched pins the decision that
// only passes that attempted work update the last sync time.
func TestClient_EmptyPassLeavesLastSyncUntouched(t *testing.T) {
	client := newTestClient(t, &fakeGateway{}, nil)

	result, err := client.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if result != (SyncResult{}) {
		t.Errorf("expected zero result, got %+v", result)
	}

	status := client.Status()
	if status.LastSync != nil {
		t.Errorf("empty pass must not set last sync, got %v", status.LastSync)
	}
	if status.IsSyncing {
		t.Error("syncing flag stuck after empty pass")
	}
}

func TestClient_SyncNowDrainsAndRecordsLastSync(t *testing.T) {
	gw := &fakeGateway{}
	client := newTestClient(t, gw, nil)

	rec, _ := client.Save(EntityTasks, Record{Data: json.RawMessage(`{"title":"Inspect valve"}`)})

	result, err := client.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if result.Processed != 1 || result.Remaining != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	status := client.Status()
	if status.Pending != 0 {
		t.Errorf("expected pending=0, got %d", status.Pending)
	}
	if status.LastSync == nil {
		t.Error("expected last sync recorded after a non-empty pass")
	}

	got, _ := client.Get(EntityTasks, rec.ID)
	if !got.Synced {
		t.Error("expected record synced after drain")
	}
}

// TestClient_ReconnectTriggersSync covers the full offline-edit /
// reconnect scenario: a mutation queued while offline drains as soon
// as connectivity returns.
func TestClient_ReconnectTriggersSync(t *testing.T) {
	gw := &fakeGateway{}
	signal := newFakeSignal()
	client := newTestClient(t, gw, signal)

	signal.ch <- false
	waitFor(t, "offline transition", func() bool { return !client.Status().IsOnline })

	if _, err := client.Save(EntityTasks, Record{ID: "T1", Data: json.RawMessage(`{"id":"T1","title":"Inspect valve"}`)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if client.Status().Pending != 1 {
		t.Fatalf("expected pending=1 while offline, got %d", client.Status().Pending)
	}

	signal.ch <- true
	waitFor(t, "queue drain after reconnect", func() bool { return client.Status().Pending == 0 })

	rec, err := client.Get(EntityTasks, "T1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.Synced {
		t.Error("expected T1 synced after reconnect drain")
	}

	calls := gw.callLog()
	if len(calls) != 1 || calls[0].op != OpCreate || calls[0].resource != "tasks" {
		t.Errorf("expected one tasks insert, got %+v", calls)
	}
}

// TestClient_ConcurrentSyncNowRunsOnePass verifies the mutual
// exclusion contract: a trigger while a pass is in flight returns
// immediately without double-processing.
func TestClient_ConcurrentSyncNowRunsOnePass(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	client := newTestClient(t, gw, nil)

	client.Save(EntityTasks, Record{ID: "T1", Data: json.RawMessage(`{"id":"T1"}`)})

	type passOutcome struct {
		result SyncResult
		err    error
	}
	first := make(chan passOutcome, 1)
	go func() {
		r, err := client.SyncNow(context.Background())
		first <- passOutcome{r, err}
	}()

	waitFor(t, "first pass in flight", func() bool { return client.Status().IsSyncing })

	second, err := client.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("second SyncNow errored: %v", err)
	}
	if second != (SyncResult{}) {
		t.Errorf("second trigger must be dropped, got %+v", second)
	}

	close(gw.block)
	outcome := <-first
	if outcome.err != nil {
		t.Fatalf("first pass failed: %v", outcome.err)
	}
	if outcome.result.Processed != 1 {
		t.Errorf("expected first pass to process the item, got %+v", outcome.result)
	}

	if len(gw.callLog()) != 1 {
		t.Errorf("item processed more than once: %d gateway calls", len(gw.callLog()))
	}
}

// TestClient_FailingItemDroppedAfterThreePasses covers the scenario of
// an update that fails every attempt: gone from the queue after three
// passes, record left unsynced.
func TestClient_FailingItemDroppedAfterThreePasses(t *testing.T) {
	gw := &fakeGateway{failWith: func(gatewayCall) error {
		return fmt.Errorf("503 service unavailable")
	}}
	client := newTestClient(t, gw, nil)

	client.Save(EntityProjects, Record{ID: "P1", Data: json.RawMessage(`{"id":"P1"}`)})

	for pass := 0; pass < 3; pass++ {
		result, err := client.SyncNow(context.Background())
		if err != nil {
			t.Fatalf("pass failed: %v", err)
		}
		if result.Failed != 1 {
			t.Errorf("expected failed=1 on every pass, got %+v", result)
		}
	}

	if pending := client.Status().Pending; pending != 0 {
		t.Errorf("expected item dropped after 3 passes, pending=%d", pending)
	}

	rec, _ := client.Get(EntityProjects, "P1")
	if rec.Synced {
		t.Error("P1 must remain unsynced after delivery was abandoned")
	}
}

func TestClient_BulkSaveCachesAsSynced(t *testing.T) {
	client := newTestClient(t, nil, nil)

	recs := []Record{
		{ID: "P1", Data: json.RawMessage(`{"id":"P1","name":"Depot"}`)},
		{ID: "P2", Data: json.RawMessage(`{"id":"P2","name":"Annex"}`)},
	}
	if err := client.BulkSave(EntityProjects, recs); err != nil {
		t.Fatalf("BulkSave failed: %v", err)
	}

	if client.Status().Pending != 0 {
		t.Error("BulkSave must not queue mutations")
	}

	unsynced, _ := client.Store().Unsynced(EntityProjects)
	if len(unsynced) != 0 {
		t.Errorf("server-fetched records must be stored synced, got %d unsynced", len(unsynced))
	}
}

func TestClient_StatusReflectsStoreAvailability(t *testing.T) {
	client := newTestClient(t, nil, nil)

	status := client.Status()
	if !status.OfflineReady {
		t.Error("expected OfflineReady with a working store")
	}
	if status.IsOnline {
		t.Error("expected offline with no gateway")
	}
}

func TestClient_CloseIdempotentAndFinal(t *testing.T) {
	client := newTestClient(t, &fakeGateway{}, nil)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close errored: %v", err)
	}

	if _, err := client.Save(EntityTasks, Record{Data: json.RawMessage(`{}`)}); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
	if _, err := client.SyncNow(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}
