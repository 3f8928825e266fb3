// Package daemon provides the background sync daemon.
//
// The daemon:
// 1. Watches a spool directory for dropped change files (*.json)
// 2. Queues each change file into the local sync store
// 3. Periodically runs a full sync cycle against the remote store
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/practivo/medsync/internal/engine"
	"github.com/practivo/medsync/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a sync cycle runs against the remote.
	SyncInterval time.Duration

	// DebounceInterval is how long to wait before processing spool
	// files. This batches rapid drops together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// changeFile is the wire shape of a spool file. Applications drop one
// JSON file per local write into the spool directory.
type changeFile struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

// Daemon orchestrates spool watching and periodic synchronization.
type Daemon struct {
	syncer   engine.Syncer
	spoolDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - syncer: the sync orchestrator to queue changes into and run cycles on
//   - spoolDir: directory containing dropped change files (*.json)
//
// Use Start() to begin watching and syncing.
func New(syncer engine.Syncer, spoolDir string) (*Daemon, error) {
	return NewWithConfig(syncer, spoolDir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer engine.Syncer, spoolDir string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      syncer,
		spoolDir:    spoolDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Drain any change files already sitting in the spool
// 2. Run an initial sync cycle
// 3. Watch for new spool files, queueing them with debouncing
// 4. Run a sync cycle every SyncInterval
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	// Drain files dropped while the daemon was down
	if err := d.drainSpool(); err != nil {
		return fmt.Errorf("initial spool drain failed: %w", err)
	}

	if err := d.runSync(); err != nil {
		d.config.Logger.Printf("Warning: initial sync failed: %v", err)
	}

	if err := d.watcher.Add(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.spoolDir)

	// Start background goroutines
	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.syncLoop()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	// Close watcher
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// drainSpool queues every change file currently in the spool.
func (d *Daemon) drainSpool() error {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	queued := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.spoolDir, entry.Name())
		if err := d.ingestChangeFile(path); err != nil {
			d.config.Logger.Printf("Warning: failed to queue %s: %v", path, err)
			continue
		}
		queued++
	}

	if queued > 0 {
		d.config.Logger.Printf("Queued %d spooled changes", queued)
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// Only process .json files
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued spool files with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges ingests files that have been queued for long
// enough. The due paths are collected under the lock and ingested
// after releasing it, so file reads and store writes never stall the
// watcher's queueChange path.
func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var due []string
	for path, queuedAt := range d.changeQueue {
		// Only process if enough time has passed (debouncing)
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		due = append(due, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range due {
		if err := d.ingestChangeFile(path); err != nil {
			d.config.Logger.Printf("Error queueing %s: %v", path, err)
		}
	}
}

// ingestChangeFile parses one spool file, queues it as a pending
// change, and removes the file on success. A file that fails
// validation is renamed aside so it stops being retried.
func (d *Daemon) ingestChangeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // already ingested or removed by the writer
		}
		return fmt.Errorf("failed to read change file: %w", err)
	}

	var cf changeFile
	if err := json.Unmarshal(data, &cf); err != nil {
		d.quarantine(path)
		return fmt.Errorf("failed to parse change file: %w", err)
	}

	change := store.Change{
		TableName: cf.TableName,
		RecordID:  cf.RecordID,
		Operation: store.Operation(cf.Operation),
		Payload:   cf.Payload,
	}

	if _, err := d.syncer.QueueChange(d.ctx, change); err != nil {
		if errors.Is(err, store.ErrInvalidChange) {
			d.quarantine(path)
		}
		return fmt.Errorf("failed to queue change: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.config.Logger.Printf("Warning: failed to remove %s: %v", path, err)
	}

	d.config.Logger.Printf("Queued change: %s/%s (%s)", cf.TableName, cf.RecordID, cf.Operation)
	return nil
}

// quarantine renames a malformed spool file out of the watch set.
func (d *Daemon) quarantine(path string) {
	bad := path + ".bad"
	if err := os.Rename(path, bad); err != nil && !os.IsNotExist(err) {
		d.config.Logger.Printf("Warning: failed to quarantine %s: %v", path, err)
	}
}

// syncLoop runs a sync cycle every SyncInterval.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.runSync(); err != nil {
				d.config.Logger.Printf("Sync cycle failed: %v", err)
			}
		}
	}
}

// runSync executes one sync cycle. An already-running cycle is not an
// error at this level; the next tick retries.
func (d *Daemon) runSync() error {
	_, err := d.syncer.Sync(d.ctx)
	if errors.Is(err, engine.ErrSyncInProgress) {
		return nil
	}
	return err
}
