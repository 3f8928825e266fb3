package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrSyncInProgress is returned when Sync is called while a cycle is
// already running. The caller should back off and retry later; nothing
// is queued or lost.
var ErrSyncInProgress = errors.New("sync already in progress")

// Status is the orchestrator's current position in the sync state
// machine.
type Status string

const (
	// StatusIdle means no cycle is running. The initial state.
	StatusIdle Status = "idle"
	// StatusSyncing means a cycle is currently executing.
	StatusSyncing Status = "syncing"
	// StatusError means the last cycle aborted; the next Sync call
	// retries from scratch.
	StatusError Status = "error"
)

// StateSnapshot is a point-in-time copy of the orchestrator state.
type StateSnapshot struct {
	Status         Status
	LastSync       *time.Time
	PendingChanges int
	OpenConflicts  int
	LastError      error
}

// State tracks one orchestrator's position in the idle/syncing/error
// machine plus observability counters. Each orchestrator owns its own
// State instance, so independent orchestrators can run in parallel
// (there is deliberately no package-level singleton).
//
// Safe for concurrent use.
type State struct {
	mu       sync.Mutex
	status   Status
	lastSync *time.Time
	pending  int
	open     int
	lastErr  error
}

// NewState returns a State in the idle status.
func NewState() *State {
	return &State{status: StatusIdle}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		Status:         s.status,
		LastSync:       s.lastSync,
		PendingChanges: s.pending,
		OpenConflicts:  s.open,
		LastError:      s.lastErr,
	}
}

// beginSync transitions idle|error -> syncing. Only one cycle may hold
// the syncing status; a concurrent caller gets ErrSyncInProgress.
func (s *State) beginSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusSyncing {
		return ErrSyncInProgress
	}
	s.status = StatusSyncing
	return nil
}

// endSync transitions syncing -> idle on success or syncing -> error on
// a cycle-level failure. On success the last sync time is stamped.
func (s *State) endSync(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = StatusError
		s.lastErr = err
		return
	}
	now := time.Now().UTC()
	s.status = StatusIdle
	s.lastSync = &now
	s.lastErr = nil
}

// setCounts refreshes the observability counters.
func (s *State) setCounts(pending, open int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = pending
	s.open = open
}
