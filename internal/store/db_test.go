package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/keg/internal/installer"
)

// Helper function to create an in-memory store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestListHistory_NoSchema_ReturnsErrNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	_, err = s.ListHistory(10, "")
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListHistory() error = %v; want ErrNotInitialized", err)
	}
	_, err = s.RecordEvent(&HistoryEntry{Action: "install", Formula: "jq", Outcome: "installed"})
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("RecordEvent() error = %v; want ErrNotInitialized", err)
	}
}

func TestCreateSchema(t *testing.T) {
	store := newTestStore(t)

	tables := []string{"history", "snapshots", "snapshot_packages"}
	for _, table := range tables {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not found: %v", table, err)
		}
	}

	// Running it again is a no-op.
	if err := store.CreateSchema(); err != nil {
		t.Errorf("second CreateSchema() failed: %v", err)
	}
}

func TestRecordAndListHistory(t *testing.T) {
	store := newTestStore(t)

	entries := []*HistoryEntry{
		{Action: "install", Formula: "oniguruma", Version: "6.9.9", Backend: "native", Outcome: "installed", Elapsed: 1500 * time.Millisecond},
		{Action: "install", Formula: "jq", Version: "1.7.1", Backend: "native", Outcome: "installed"},
		{Action: "upgrade", Formula: "jq", Version: "1.7.2", FromVersion: "1.7.1", Backend: "native", Outcome: "failed", Error: "jq: extracting bottle: extraction failed"},
	}
	for _, e := range entries {
		if _, err := store.RecordEvent(e); err != nil {
			t.Fatalf("RecordEvent() failed: %v", err)
		}
	}

	all, err := store.ListHistory(0, "")
	if err != nil {
		t.Fatalf("ListHistory() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Action != "upgrade" || all[2].Formula != "oniguruma" {
		t.Errorf("entries not newest first: %+v", all)
	}
	if all[0].FromVersion != "1.7.1" || !strings.Contains(all[0].Error, "extraction failed") {
		t.Errorf("upgrade entry lost fields: %+v", all[0])
	}
	if all[2].Elapsed != 1500*time.Millisecond {
		t.Errorf("Elapsed = %v, want 1.5s", all[2].Elapsed)
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}

	limited, err := store.ListHistory(1, "")
	if err != nil {
		t.Fatalf("ListHistory(1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 entry, got %d", len(limited))
	}

	jq, err := store.ListHistory(0, "jq")
	if err != nil {
		t.Fatalf("ListHistory(jq) failed: %v", err)
	}
	if len(jq) != 2 {
		t.Errorf("expected 2 jq entries, got %d", len(jq))
	}

	count, err := store.HistoryCount()
	if err != nil {
		t.Fatalf("HistoryCount() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("HistoryCount() = %d, want 3", count)
	}
}

func TestSnapshots(t *testing.T) {
	store := newTestStore(t)

	id, err := store.InsertSnapshot("before autoremove", 2, "/tmp/snap.json")
	if err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}

	pkgs := []*SnapshotPackage{
		{PackageName: "oniguruma", Version: "6.9.9", Tap: "homebrew/core"},
		{PackageName: "jq", Version: "1.7.1", Tap: "homebrew/core", WasExplicit: true},
	}
	for _, p := range pkgs {
		if err := store.InsertSnapshotPackage(id, p); err != nil {
			t.Fatalf("InsertSnapshotPackage() failed: %v", err)
		}
	}

	snap, err := store.GetSnapshot(id)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if snap.Reason != "before autoremove" || snap.PackageCount != 2 || snap.SnapshotPath != "/tmp/snap.json" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	got, err := store.GetSnapshotPackages(id)
	if err != nil {
		t.Fatalf("GetSnapshotPackages() failed: %v", err)
	}
	if len(got) != 2 || got[0].PackageName != "jq" || !got[0].WasExplicit {
		t.Errorf("unexpected snapshot packages: %+v", got)
	}

	second, err := store.InsertSnapshot("before cleanup", 0, "/tmp/snap2.json")
	if err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	list, err := store.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != second {
		t.Errorf("snapshots not newest first: %+v", list)
	}

	if err := store.DeleteSnapshot(id); err != nil {
		t.Fatalf("DeleteSnapshot() failed: %v", err)
	}
	if _, err := store.GetSnapshot(id); err == nil {
		t.Error("GetSnapshot() should fail after delete")
	}
	remaining, err := store.GetSnapshotPackages(id)
	if err != nil {
		t.Fatalf("GetSnapshotPackages() failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("snapshot packages should cascade, got %d", len(remaining))
	}
	if err := store.DeleteSnapshot(id); err == nil {
		t.Error("deleting a missing snapshot should fail")
	}
}

func TestRecorder(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecorder(store, zerolog.Nop())

	rec.Record(installer.Event{
		Action:  "install",
		Name:    "jq",
		Version: "1.7.1",
		Backend: installer.BackendNative,
		Outcome: installer.OutcomeInstalled,
		Elapsed: 2 * time.Second,
	})
	rec.Record(installer.Event{
		Action:  "install",
		Name:    "wget",
		Backend: installer.BackendExternal,
		Outcome: installer.OutcomeFailed,
		Err:     errors.New("wget: delegating: brew is not available"),
	})

	entries, err := store.ListHistory(0, "")
	if err != nil {
		t.Fatalf("ListHistory() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Outcome != "failed" || entries[0].Backend != "external" || entries[0].Error == "" {
		t.Errorf("unexpected failure entry: %+v", entries[0])
	}
	if entries[1].Outcome != "installed" || entries[1].Elapsed != 2*time.Second {
		t.Errorf("unexpected install entry: %+v", entries[1])
	}
}

func TestRecorder_WriteFailureIsSwallowed(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	// No schema: the write fails but Record must not panic.
	NewRecorder(s, zerolog.Nop()).Record(installer.Event{Action: "install", Name: "jq"})
}
