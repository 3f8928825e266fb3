package engine

import (
	"time"

	"github.com/practivo/medsync/internal/store"
)

// Events receives notifications about sync activity. Implementations
// must not block; the orchestrator calls them inline during a cycle.
//
// The dashboard package implements Events to broadcast activity to
// connected WebSocket clients.
type Events interface {
	// SyncStarted fires when a cycle enters the syncing state.
	SyncStarted()

	// SyncCompleted fires when a cycle returns to idle.
	SyncCompleted(report *Report, elapsed time.Duration)

	// ConflictDetected fires when a new divergence is recorded.
	ConflictDetected(conflict store.Conflict)

	// ConflictResolved fires when an open conflict is closed.
	ConflictResolved(conflict store.Conflict)
}

// nopEvents is the default sink when no Events implementation is given.
type nopEvents struct{}

func (nopEvents) SyncStarted()                              {}
func (nopEvents) SyncCompleted(*Report, time.Duration)      {}
func (nopEvents) ConflictDetected(store.Conflict)           {}
func (nopEvents) ConflictResolved(store.Conflict)           {}
