package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite. It is the backend to reach
// for once the context file grows past single-node, low-volume use.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database and runs
// migrations.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ticket_contexts (
			ticket_id        TEXT PRIMARY KEY,
			conversation_ref TEXT NOT NULL,
			message_id       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contexts_message ON ticket_contexts(message_id);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ticketID string, ref json.RawMessage, messageID string) error {
	_, err := s.db.Exec(`
		INSERT INTO ticket_contexts (ticket_id, conversation_ref, message_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticket_id) DO UPDATE SET
			conversation_ref=excluded.conversation_ref,
			message_id=excluded.message_id,
			updated_at=excluded.updated_at
	`, ticketID, string(ref), messageID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put %s: %w", ticketID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ticketID string) (*TicketContext, bool) {
	row := s.db.QueryRow(`SELECT ticket_id, conversation_ref, message_id, updated_at FROM ticket_contexts WHERE ticket_id = ?`, ticketID)

	var tc TicketContext
	var ref, updatedAt string
	if err := row.Scan(&tc.TicketID, &ref, &tc.MessageID, &updatedAt); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("context row unreadable, treating as not found", "ticket_id", ticketID, "error", err)
		}
		return nil, false
	}
	tc.ConversationRef = json.RawMessage(ref)
	tc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &tc, true
}

func (s *SQLiteStore) FindTicketIDByMessage(messageID string) (string, bool) {
	row := s.db.QueryRow(`SELECT ticket_id FROM ticket_contexts WHERE message_id = ? ORDER BY updated_at LIMIT 1`, messageID)

	var ticketID string
	if err := row.Scan(&ticketID); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("reverse lookup failed, treating as not found", "message_id", messageID, "error", err)
		}
		return "", false
	}
	return ticketID, true
}

func (s *SQLiteStore) Evict(olderThan time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM ticket_contexts WHERE updated_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store: evict: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
