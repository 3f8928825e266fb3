package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// testStore opens an initialized store backed by a temporary database.
func testStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sync.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	return s
}

func testChange(table, id string) Change {
	return Change{
		TableName: table,
		RecordID:  id,
		Operation: OpUpdate,
		Payload:   json.RawMessage(`{"id":"` + id + `","name":"Jane"}`),
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := testStore(t)

	// InitSchema already ran once in testStore; a second run must not fail
	if err := s.InitSchema(context.Background()); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}

	tables := []string{"sync_queue", "sync_conflicts", "sync_status", "sync_records"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestQueueChange_Success(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pending, err := s.QueueChange(ctx, testChange("patients", "p1"))
	if err != nil {
		t.Fatalf("QueueChange() failed: %v", err)
	}

	if pending.ID == "" {
		t.Error("QueueChange() did not assign an id")
	}
	if pending.Synced {
		t.Error("New change must not be marked synced")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.PendingChanges != 1 {
		t.Errorf("PendingChanges = %d, want 1", stats.PendingChanges)
	}
}

func TestQueueChange_Validation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		change Change
	}{
		{
			name: "empty table name",
			change: Change{
				TableName: "",
				RecordID:  "p1",
				Operation: OpUpdate,
				Payload:   json.RawMessage(`{"id":"p1"}`),
			},
		},
		{
			name: "empty record id",
			change: Change{
				TableName: "patients",
				RecordID:  "",
				Operation: OpUpdate,
				Payload:   json.RawMessage(`{"id":""}`),
			},
		},
		{
			name: "unknown operation",
			change: Change{
				TableName: "patients",
				RecordID:  "p1",
				Operation: Operation("PATCH"),
				Payload:   json.RawMessage(`{"id":"p1"}`),
			},
		},
		{
			name: "payload id mismatch",
			change: Change{
				TableName: "patients",
				RecordID:  "p1",
				Operation: OpUpdate,
				Payload:   json.RawMessage(`{"id":"p2"}`),
			},
		},
		{
			name: "payload not an object",
			change: Change{
				TableName: "patients",
				RecordID:  "p1",
				Operation: OpUpdate,
				Payload:   json.RawMessage(`"p1"`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.QueueChange(ctx, tt.change)
			if !errors.Is(err, ErrInvalidChange) {
				t.Errorf("QueueChange() error = %v, want ErrInvalidChange", err)
			}
		})
	}

	// No row may be written for any rejected change
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.PendingChanges != 0 {
		t.Errorf("PendingChanges = %d after rejected changes, want 0", stats.PendingChanges)
	}
}

func TestUnsynced_Ordering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ids := []string{"p1", "p2", "p3"}
	for _, id := range ids {
		if _, err := s.QueueChange(ctx, testChange("patients", id)); err != nil {
			t.Fatalf("QueueChange(%s) failed: %v", id, err)
		}
		// Distinct created_at values so the order is deterministic
		time.Sleep(2 * time.Millisecond)
	}

	changes, err := s.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced() failed: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("Unsynced() returned %d changes, want 3", len(changes))
	}

	for i, id := range ids {
		if changes[i].RecordID != id {
			t.Errorf("changes[%d].RecordID = %q, want %q", i, changes[i].RecordID, id)
		}
	}
}

func TestUnsynced_SameSecondCausalOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Two changes to the same record within one second, where the
	// earlier time has fewer significant fractional digits. A trimmed
	// encoding ("…05.2Z" vs "…05.25Z") sorts the newer change first
	// lexicographically; the fixed-width layout must not.
	earlier := time.Date(2026, 8, 31, 12, 0, 5, 200_000_000, time.UTC)
	later := earlier.Add(50 * time.Millisecond)

	insert := func(id string, at time.Time) {
		t.Helper()
		_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (id, table_name, record_id, operation, payload, created_at, synced)
		VALUES (?, 'patients', 'p1', 'UPDATE', '{"id":"p1"}', ?, 0)`,
			id, at.Format(timeLayout))
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	insert("first", earlier)
	insert("second", later)

	changes, err := s.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced() failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("Unsynced() returned %d changes, want 2", len(changes))
	}
	if changes[0].ID != "first" || changes[1].ID != "second" {
		t.Errorf("causal order inverted: drained %s then %s, want first then second",
			changes[0].ID, changes[1].ID)
	}
}

func TestQueueChange_FixedWidthCreatedAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pending, err := s.QueueChange(ctx, testChange("patients", "p1"))
	if err != nil {
		t.Fatalf("QueueChange() failed: %v", err)
	}

	var raw string
	err = s.conn.QueryRowContext(ctx,
		`SELECT created_at FROM sync_queue WHERE id = ?`, pending.ID).Scan(&raw)
	if err != nil {
		t.Fatalf("failed to read created_at: %v", err)
	}

	// The layout requires all nine fractional digits, so parsing with
	// it fails on any trimmed encoding.
	if _, err := time.Parse(timeLayout, raw); err != nil {
		t.Errorf("created_at %q is not fixed width: %v", raw, err)
	}
}

func TestUnsynced_IdempotentDrain(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.QueueChange(ctx, testChange("patients", "p1")); err != nil {
		t.Fatalf("QueueChange() failed: %v", err)
	}
	if _, err := s.QueueChange(ctx, testChange("patients", "p2")); err != nil {
		t.Fatalf("QueueChange() failed: %v", err)
	}

	first, err := s.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced() failed: %v", err)
	}
	second, err := s.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced() failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Drain not idempotent: %d vs %d changes", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("Drain not idempotent at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestMarkSynced(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pending, err := s.QueueChange(ctx, testChange("patients", "p1"))
	if err != nil {
		t.Fatalf("QueueChange() failed: %v", err)
	}

	if err := s.MarkSynced(ctx, pending.ID); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	changes, err := s.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced() failed: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("Unsynced() returned %d changes after MarkSynced, want 0", len(changes))
	}

	// Idempotent: marking again, or marking an unknown id, is a no-op
	if err := s.MarkSynced(ctx, pending.ID); err != nil {
		t.Errorf("Second MarkSynced() failed: %v", err)
	}
	if err := s.MarkSynced(ctx, "no-such-id"); err != nil {
		t.Errorf("MarkSynced(unknown) failed: %v", err)
	}
}

func TestAddConflict_And_Get(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conflict := &Conflict{
		SyncLogID:  "change-1",
		TableName:  "patients",
		RecordID:   "p1",
		LocalData:  json.RawMessage(`{"id":"p1","name":"Jane"}`),
		RemoteData: json.RawMessage(`{"id":"p1","name":"John"}`),
	}

	if err := s.AddConflict(ctx, conflict); err != nil {
		t.Fatalf("AddConflict() failed: %v", err)
	}
	if conflict.ID == "" {
		t.Fatal("AddConflict() did not assign an id")
	}

	got, err := s.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("GetConflict() failed: %v", err)
	}

	if !got.Open() {
		t.Error("New conflict must be open")
	}
	if string(got.LocalData) != string(conflict.LocalData) {
		t.Errorf("LocalData = %s, want %s", got.LocalData, conflict.LocalData)
	}
	if string(got.RemoteData) != string(conflict.RemoteData) {
		t.Errorf("RemoteData = %s, want %s", got.RemoteData, conflict.RemoteData)
	}

	if _, err := s.GetConflict(ctx, "no-such-id"); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("GetConflict(unknown) error = %v, want ErrConflictNotFound", err)
	}
}

func TestResolveConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conflict := &Conflict{
		SyncLogID:  "change-1",
		TableName:  "patients",
		RecordID:   "p1",
		LocalData:  json.RawMessage(`{"id":"p1","name":"Jane"}`),
		RemoteData: json.RawMessage(`{"id":"p1","name":"John"}`),
	}
	if err := s.AddConflict(ctx, conflict); err != nil {
		t.Fatalf("AddConflict() failed: %v", err)
	}

	resolved, err := s.ResolveConflict(ctx, conflict.ID, ResolutionLocal, conflict.LocalData)
	if err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}
	if resolved.ResolvedAt == nil {
		t.Fatal("ResolvedAt not set")
	}
	if resolved.ResolutionType != ResolutionLocal {
		t.Errorf("ResolutionType = %q, want LOCAL", resolved.ResolutionType)
	}

	// The winning payload lands in the local mirror
	local, err := s.LocalRecord(ctx, "patients", "p1")
	if err != nil {
		t.Fatalf("LocalRecord() failed: %v", err)
	}
	if string(local) != string(conflict.LocalData) {
		t.Errorf("LocalRecord = %s, want %s", local, conflict.LocalData)
	}

	// Resolution is one-way, resolved conflicts are immutable history
	_, err = s.ResolveConflict(ctx, conflict.ID, ResolutionRemote, conflict.RemoteData)
	if !errors.Is(err, ErrConflictResolved) {
		t.Fatalf("Second ResolveConflict() error = %v, want ErrConflictResolved", err)
	}

	got, err := s.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("GetConflict() failed: %v", err)
	}
	if string(got.ResolutionData) != string(conflict.LocalData) {
		t.Errorf("ResolutionData changed by failed re-resolution: %s", got.ResolutionData)
	}

	_, err = s.ResolveConflict(ctx, "no-such-id", ResolutionLocal, conflict.LocalData)
	if !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("ResolveConflict(unknown) error = %v, want ErrConflictNotFound", err)
	}
}

func TestResolveConflict_InvalidResolution(t *testing.T) {
	s := testStore(t)

	_, err := s.ResolveConflict(context.Background(), "x", Resolution("MERGE"), nil)
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("ResolveConflict() error = %v, want ErrInvalidResolution", err)
	}
}

func TestWatermark(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	wm, err := s.Watermark(ctx, "patients")
	if err != nil {
		t.Fatalf("Watermark() failed: %v", err)
	}
	if wm != nil {
		t.Errorf("Watermark for never-pulled table = %v, want nil", wm)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.SetWatermark(ctx, "patients", now); err != nil {
		t.Fatalf("SetWatermark() failed: %v", err)
	}

	wm, err = s.Watermark(ctx, "patients")
	if err != nil {
		t.Fatalf("Watermark() failed: %v", err)
	}
	if wm == nil || !wm.Equal(now) {
		t.Errorf("Watermark = %v, want %v", wm, now)
	}

	// Advancing again replaces the previous watermark
	later := now.Add(time.Minute)
	if err := s.SetWatermark(ctx, "patients", later); err != nil {
		t.Fatalf("SetWatermark() failed: %v", err)
	}
	wm, err = s.Watermark(ctx, "patients")
	if err != nil {
		t.Fatalf("Watermark() failed: %v", err)
	}
	if wm == nil || !wm.Equal(later) {
		t.Errorf("Watermark = %v, want %v", wm, later)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.PendingChanges != 0 || stats.OpenConflicts != 0 || stats.LastSync != nil {
		t.Errorf("Fresh store stats = %+v, want zeroes", stats)
	}

	if _, err := s.QueueChange(ctx, testChange("patients", "p1")); err != nil {
		t.Fatalf("QueueChange() failed: %v", err)
	}
	conflict := &Conflict{
		SyncLogID:  "c",
		TableName:  "patients",
		RecordID:   "p1",
		LocalData:  json.RawMessage(`{"id":"p1"}`),
		RemoteData: json.RawMessage(`{"id":"p1","x":1}`),
	}
	if err := s.AddConflict(ctx, conflict); err != nil {
		t.Fatalf("AddConflict() failed: %v", err)
	}
	if err := s.SetWatermark(ctx, "patients", time.Now().UTC()); err != nil {
		t.Fatalf("SetWatermark() failed: %v", err)
	}

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.PendingChanges != 1 {
		t.Errorf("PendingChanges = %d, want 1", stats.PendingChanges)
	}
	if stats.OpenConflicts != 1 {
		t.Errorf("OpenConflicts = %d, want 1", stats.OpenConflicts)
	}
	if stats.LastSync == nil {
		t.Error("LastSync not set after SetWatermark")
	}
}

func TestStats_LastSyncSameSecond(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Two watermarks within one second where the later one has more
	// significant fractional digits. With trimmed encodings MAX() picks
	// the shorter (earlier) string; fixed-width keeps MAX chronological.
	earlier := time.Date(2026, 8, 31, 12, 0, 5, 200_000_000, time.UTC)
	later := earlier.Add(50 * time.Millisecond)

	if err := s.SetWatermark(ctx, "patients", later); err != nil {
		t.Fatalf("SetWatermark() failed: %v", err)
	}
	if err := s.SetWatermark(ctx, "appointments", earlier); err != nil {
		t.Fatalf("SetWatermark() failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.LastSync == nil || !stats.LastSync.Equal(later) {
		t.Errorf("LastSync = %v, want %v", stats.LastSync, later)
	}
}
