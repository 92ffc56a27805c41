package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "storage.json"), nil)
}

func TestFileStore_RoundTrip(t *testing.T) {
	s := newFileStore(t)

	ref := json.RawMessage(`{"transport":"teams","reference":{"conversation":{"id":"c1"}}}`)
	if err := s.Put("T1", ref, "M1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	tc, ok := s.Get("T1")
	if !ok {
		t.Fatal("expected context for T1")
	}
	if string(tc.ConversationRef) != string(ref) {
		t.Errorf("conversation ref not stored verbatim: %s", tc.ConversationRef)
	}
	if tc.MessageID != "M1" {
		t.Errorf("message id = %q, want M1", tc.MessageID)
	}

	ticketID, ok := s.FindTicketIDByMessage("M1")
	if !ok || ticketID != "T1" {
		t.Errorf("reverse lookup = %q, %v, want T1, true", ticketID, ok)
	}
}

func TestFileStore_Overwrite(t *testing.T) {
	s := newFileStore(t)
	ref := json.RawMessage(`{"transport":"teams"}`)

	if err := s.Put("T1", ref, "M1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("T1", ref, "M2"); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := s.FindTicketIDByMessage("M1"); ok {
		t.Error("M1 should no longer resolve after overwrite")
	}
	ticketID, ok := s.FindTicketIDByMessage("M2")
	if !ok || ticketID != "T1" {
		t.Errorf("reverse lookup M2 = %q, %v, want T1, true", ticketID, ok)
	}
}

func TestFileStore_Unknown(t *testing.T) {
	s := newFileStore(t)

	if _, ok := s.Get("unknown"); ok {
		t.Error("get of unknown ticket should report not found")
	}
	if _, ok := s.FindTicketIDByMessage("unknown"); ok {
		t.Error("reverse lookup of unknown message should report not found")
	}
}

func TestFileStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path, nil)

	if _, ok := s.Get("T1"); ok {
		t.Error("corrupt file should read as empty")
	}

	// Writes start over from the empty store.
	if err := s.Put("T1", json.RawMessage(`{}`), "M1"); err != nil {
		t.Fatalf("put over corrupt file: %v", err)
	}
	if _, ok := s.Get("T1"); !ok {
		t.Error("expected context after rewriting corrupt file")
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")

	s1 := NewFileStore(path, nil)
	if err := s1.Put("T1", json.RawMessage(`{"a":1}`), "M1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A fresh instance reads what the first durably committed.
	s2 := NewFileStore(path, nil)
	tc, ok := s2.Get("T1")
	if !ok {
		t.Fatal("expected context to survive across instances")
	}
	if tc.MessageID != "M1" {
		t.Errorf("message id = %q, want M1", tc.MessageID)
	}
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "storage.json"), nil)

	for i := 0; i < 3; i++ {
		if err := s.Put("T1", json.RawMessage(`{}`), "M1"); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "storage.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("expected only storage.json in dir, got %v", names)
	}
}

func TestFileStore_Evict(t *testing.T) {
	s := newFileStore(t)

	if err := s.Put("old", json.RawMessage(`{}`), "M1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("new", json.RawMessage(`{}`), "M2"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Nothing is old enough yet.
	n, err := s.Evict(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 0 {
		t.Errorf("evicted %d, want 0", n)
	}

	// Everything is older than a future cutoff.
	n, err = s.Evict(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 2 {
		t.Errorf("evicted %d, want 2", n)
	}
	if _, ok := s.Get("old"); ok {
		t.Error("evicted context should be gone")
	}
}
