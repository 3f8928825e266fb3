package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/practivo/medsync/internal/engine"
	"github.com/practivo/medsync/internal/store"
)

// fakeSyncer records queued changes and sync cycles.
type fakeSyncer struct {
	mu      sync.Mutex
	queued  []store.Change
	syncs   int
	syncErr error

	// gate, when non-nil, blocks QueueChange until closed; entered is
	// signaled when a call reaches the gate.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSyncer) QueueChange(ctx context.Context, change store.Change) (*store.PendingChange, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if !change.Operation.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", store.ErrInvalidChange, change.Operation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, change)
	return &store.PendingChange{
		TableName: change.TableName,
		RecordID:  change.RecordID,
		Operation: change.Operation,
		Payload:   change.Payload,
	}, nil
}

func (f *fakeSyncer) Sync(ctx context.Context) (*engine.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &engine.Report{}, nil
}

func (f *fakeSyncer) Resolve(ctx context.Context, conflictID string, resolution store.Resolution, manual json.RawMessage) (*store.Conflict, error) {
	return nil, nil
}

func (f *fakeSyncer) OpenConflicts(ctx context.Context) ([]store.Conflict, error) {
	return nil, nil
}

func (f *fakeSyncer) State() engine.StateSnapshot { return engine.StateSnapshot{} }

func (f *fakeSyncer) Stats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{}, nil
}

func (f *fakeSyncer) queuedChanges() []store.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Change(nil), f.queued...)
}

func (f *fakeSyncer) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func testDaemon(t *testing.T, syncer *fakeSyncer) (*Daemon, string) {
	t.Helper()

	spool := t.TempDir()
	config := &Config{
		SyncInterval:     20 * time.Millisecond,
		DebounceInterval: 5 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
	d, err := NewWithConfig(syncer, spool, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	return d, spool
}

func writeSpoolFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write spool file: %v", err)
	}
	return path
}

func TestNewWithConfig_Validation(t *testing.T) {
	if _, err := NewWithConfig(nil, t.TempDir(), nil); err == nil {
		t.Error("nil syncer accepted")
	}
	if _, err := NewWithConfig(&fakeSyncer{}, "", nil); err == nil {
		t.Error("empty spool dir accepted")
	}
}

func TestIngestChangeFile(t *testing.T) {
	syncer := &fakeSyncer{}
	d, spool := testDaemon(t, syncer)

	path := writeSpoolFile(t, spool, "change1.json",
		`{"table_name":"patients","record_id":"p1","operation":"UPDATE","payload":{"id":"p1","name":"Jane"}}`)

	if err := d.ingestChangeFile(path); err != nil {
		t.Fatalf("ingestChangeFile() failed: %v", err)
	}

	queued := syncer.queuedChanges()
	if len(queued) != 1 {
		t.Fatalf("queued %d changes, want 1", len(queued))
	}
	change := queued[0]
	if change.TableName != "patients" || change.RecordID != "p1" || change.Operation != store.OpUpdate {
		t.Errorf("queued change = %+v", change)
	}

	// The file is consumed on success
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("spool file not removed after ingest")
	}
}

func TestIngestChangeFile_MalformedIsQuarantined(t *testing.T) {
	syncer := &fakeSyncer{}
	d, spool := testDaemon(t, syncer)

	path := writeSpoolFile(t, spool, "bad.json", `{not json`)

	if err := d.ingestChangeFile(path); err == nil {
		t.Fatal("ingestChangeFile() accepted malformed JSON")
	}
	if len(syncer.queuedChanges()) != 0 {
		t.Error("malformed file was queued")
	}
	if _, err := os.Stat(path + ".bad"); err != nil {
		t.Errorf("quarantine file missing: %v", err)
	}
}

func TestIngestChangeFile_InvalidOperationIsQuarantined(t *testing.T) {
	syncer := &fakeSyncer{}
	d, spool := testDaemon(t, syncer)

	path := writeSpoolFile(t, spool, "patch.json",
		`{"table_name":"patients","record_id":"p1","operation":"PATCH","payload":{"id":"p1"}}`)

	if err := d.ingestChangeFile(path); err == nil {
		t.Fatal("ingestChangeFile() accepted invalid operation")
	}
	if _, err := os.Stat(path + ".bad"); err != nil {
		t.Errorf("quarantine file missing: %v", err)
	}
}

func TestDrainSpool(t *testing.T) {
	syncer := &fakeSyncer{}
	d, spool := testDaemon(t, syncer)

	writeSpoolFile(t, spool, "a.json",
		`{"table_name":"patients","record_id":"p1","operation":"INSERT","payload":{"id":"p1"}}`)
	writeSpoolFile(t, spool, "b.json",
		`{"table_name":"appointments","record_id":"a1","operation":"UPDATE","payload":{"id":"a1"}}`)
	writeSpoolFile(t, spool, "notes.txt", "ignored")

	if err := d.drainSpool(); err != nil {
		t.Fatalf("drainSpool() failed: %v", err)
	}
	if got := len(syncer.queuedChanges()); got != 2 {
		t.Errorf("queued %d changes, want 2", got)
	}
}

func TestProcessPendingChanges_DoesNotBlockWatcher(t *testing.T) {
	syncer := &fakeSyncer{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	d, spool := testDaemon(t, syncer)

	path := writeSpoolFile(t, spool, "slow.json",
		`{"table_name":"patients","record_id":"p1","operation":"UPDATE","payload":{"id":"p1"}}`)
	d.queueChange(path)

	// Age the entry past the debounce window
	time.Sleep(2 * d.config.DebounceInterval)

	done := make(chan struct{})
	go func() {
		d.processPendingChanges()
		close(done)
	}()

	// Wait until ingestion is stalled inside the syncer
	select {
	case <-syncer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest never reached the syncer")
	}

	// The watcher's event path must stay responsive while the slow
	// ingest runs
	queued := make(chan struct{})
	go func() {
		d.queueChange(filepath.Join(spool, "other.json"))
		close(queued)
	}()
	select {
	case <-queued:
	case <-time.After(time.Second):
		t.Fatal("queueChange blocked while a spool file was being ingested")
	}

	close(syncer.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processPendingChanges did not finish")
	}
}

func TestDaemon_StartStop(t *testing.T) {
	syncer := &fakeSyncer{}
	d, spool := testDaemon(t, syncer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Drop a file while running; the watcher should pick it up
	time.Sleep(30 * time.Millisecond)
	writeSpoolFile(t, spool, "live.json",
		`{"table_name":"patients","record_id":"p2","operation":"UPDATE","payload":{"id":"p2"}}`)

	deadline := time.After(2 * time.Second)
	for len(syncer.queuedChanges()) == 0 {
		select {
		case <-deadline:
			t.Fatal("watcher never ingested the dropped file")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}

	// The initial cycle plus at least one periodic tick
	if syncer.syncCount() < 1 {
		t.Error("no sync cycles ran")
	}
}
