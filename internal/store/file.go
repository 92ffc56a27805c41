package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps all ticket contexts in a single JSON document. Every
// mutation rewrites the whole document through a temp file and an
// atomic rename, so concurrent readers see either the old or the new
// state, never a torn record.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore creates a store backed by the given file. The file does
// not need to exist yet.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Put(ticketID string, ref json.RawMessage, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contexts := s.read()
	contexts[ticketID] = &TicketContext{
		TicketID:        ticketID,
		ConversationRef: ref,
		MessageID:       messageID,
		UpdatedAt:       time.Now().UTC(),
	}
	return s.write(contexts)
}

func (s *FileStore) Get(ticketID string) (*TicketContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.read()[ticketID]
	return tc, ok
}

func (s *FileStore) FindTicketIDByMessage(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, tc := range s.read() {
		if tc.MessageID == messageID {
			return id, true
		}
	}
	return "", false
}

func (s *FileStore) Evict(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contexts := s.read()
	removed := 0
	for id, tc := range contexts {
		if tc.UpdatedAt.Before(olderThan) {
			delete(contexts, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.write(contexts)
}

func (s *FileStore) Close() error { return nil }

// read loads the whole document. A missing or corrupt file yields an
// empty map; the next write starts over from it.
func (s *FileStore) read() map[string]*TicketContext {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("context file unreadable, treating as empty", "path", s.path, "error", err)
		}
		return make(map[string]*TicketContext)
	}

	var contexts map[string]*TicketContext
	if err := json.Unmarshal(data, &contexts); err != nil {
		s.logger.Warn("context file corrupt, treating as empty", "path", s.path, "error", err)
		return make(map[string]*TicketContext)
	}
	if contexts == nil {
		contexts = make(map[string]*TicketContext)
	}
	return contexts
}

// write replaces the document: marshal, write to a temp file in the
// same directory, fsync, rename over the original.
func (s *FileStore) write(contexts map[string]*TicketContext) error {
	data, err := json.MarshalIndent(contexts, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode contexts: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".contexts-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}
