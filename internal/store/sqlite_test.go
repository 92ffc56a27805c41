package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "contexts.db"), nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newSQLiteStore(t)

	ref := json.RawMessage(`{"transport":"slack","reference":{"channel":"C123"}}`)
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

func TestSQLiteStore_Upsert(t *testing.T) {
	s := newSQLiteStore(t)
	ref := json.RawMessage(`{}`)

	if err := s.Put("T1", ref, "M1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("T1", ref, "M2"); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := s.FindTicketIDByMessage("M1"); ok {
		t.Error("M1 should no longer resolve after overwrite")
	}
	if ticketID, ok := s.FindTicketIDByMessage("M2"); !ok || ticketID != "T1" {
		t.Errorf("reverse lookup M2 = %q, %v, want T1, true", ticketID, ok)
	}
}

func TestSQLiteStore_Unknown(t *testing.T) {
	s := newSQLiteStore(t)

	if _, ok := s.Get("unknown"); ok {
		t.Error("get of unknown ticket should report not found")
	}
	if _, ok := s.FindTicketIDByMessage("unknown"); ok {
		t.Error("reverse lookup of unknown message should report not found")
	}
}

func TestSQLiteStore_Evict(t *testing.T) {
	s := newSQLiteStore(t)

	if err := s.Put("T1", json.RawMessage(`{}`), "M1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	n, err := s.Evict(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 0 {
		t.Errorf("evicted %d, want 0", n)
	}

	n, err = s.Evict(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if _, ok := s.Get("T1"); ok {
		t.Error("evicted context should be gone")
	}
}
