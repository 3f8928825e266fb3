// Event handling and message formatting for the dashboard.
package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/practivo/medsync/internal/engine"
	"github.com/practivo/medsync/internal/store"
)

// Handler subscribes to sync engine events and formats them as
// dashboard messages. It bridges between the orchestrator and the
// WebSocket server.
//
// Handler implements engine.Events.
type Handler struct {
	server *Server
	logger *log.Logger
}

var _ engine.Events = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// SyncStarted handles cycle start events
func (h *Handler) SyncStarted() {
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncStarted,
		Timestamp: time.Now(),
	})
}

// SyncCompleted handles cycle completion events
func (h *Handler) SyncCompleted(report *engine.Report, elapsed time.Duration) {
	h.logger.Printf("Sync complete: pushed=%d failed=%d conflicts=%d pulled=%d",
		report.Pushed, report.Failed, report.Conflicts, report.PulledCount())

	data := SyncCompleteData{
		Pushed:    report.Pushed,
		Failed:    report.Failed,
		Conflicts: report.Conflicts,
		Pulled:    report.PulledCount(),
		Pending:   report.Pending,
		Duration:  elapsed,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	h.broadcastStats(StatsData{
		PendingChanges: report.Pending,
		OpenConflicts:  report.OpenConflicts,
	})
}

// ConflictDetected handles new divergence events
func (h *Handler) ConflictDetected(conflict store.Conflict) {
	h.logger.Printf("Conflict detected: %s/%s", conflict.TableName, conflict.RecordID)
	h.broadcastConflict(conflict, "detected")
}

// ConflictResolved handles conflict resolution events
func (h *Handler) ConflictResolved(conflict store.Conflict) {
	h.logger.Printf("Conflict resolved: %s/%s (%s)",
		conflict.TableName, conflict.RecordID, conflict.ResolutionType)
	h.broadcastConflict(conflict, "resolved")
}

func (h *Handler) broadcastConflict(conflict store.Conflict, action string) {
	data := ConflictData{
		ConflictID: conflict.ID,
		TableName:  conflict.TableName,
		RecordID:   conflict.RecordID,
		Action:     action,
		Resolution: string(conflict.ResolutionType),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal conflict data: %v", err)
		return
	}

	msgType := MessageTypeConflictDetected
	if action == "resolved" {
		msgType = MessageTypeConflictResolved
	}

	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// broadcastStats sends updated queue statistics
func (h *Handler) broadcastStats(stats StatsData) {
	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
