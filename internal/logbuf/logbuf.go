// Package logbuf captures recent slog output in memory so it can be
// served from the API without shipping logs anywhere.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer retains the most recent entries up to a fixed capacity.
type Buffer struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
}

// New creates a buffer holding up to size entries.
func New(size int) *Buffer {
	return &Buffer{cap: size}
}

// Write appends an entry, discarding the oldest once full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	if len(b.entries) > b.cap {
		// Shift in place; the buffer is small and writes are rare
		// enough that this beats juggling ring indices.
		copy(b.entries, b.entries[len(b.entries)-b.cap:])
		b.entries = b.entries[:b.cap]
	}
}

// Query returns entries at or above minLevel recorded after since,
// oldest first, keeping at most the last limit entries. A zero since
// matches everything; limit <= 0 means no cap.
func (b *Buffer) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Entry
	for _, e := range b.entries {
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if levelOf(e.Level) < minLevel {
			continue
		}
		result = append(result, e)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func levelOf(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
