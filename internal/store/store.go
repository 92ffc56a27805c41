// Package store persists the correlation between externally visible
// ticket ids and the conversation state needed to update their cards.
package store

import (
	"encoding/json"
	"time"
)

// TicketContext is the persistent record for one ticket: the opaque
// conversation reference issued by the chat transport and the id of
// the last card message rendered for the ticket. MessageID is
// rewritten on every render so reverse lookup always resolves to the
// current card.
type TicketContext struct {
	TicketID        string          `json:"ticket_id"`
	ConversationRef json.RawMessage `json:"conversation_reference"`
	MessageID       string          `json:"message_id"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Store is the persistence interface for ticket contexts.
//
// Put must durably commit before returning, so a crash never loses a
// correlation that a concurrent inbound action is racing to look up.
// Reads treat corrupt or unreadable persisted state as not-found, not
// as an error.
type Store interface {
	// Put idempotently upserts the record for ticketID.
	Put(ticketID string, ref json.RawMessage, messageID string) error
	// Get retrieves the record for ticketID.
	Get(ticketID string) (*TicketContext, bool)
	// FindTicketIDByMessage reverse-looks-up the ticket owning the
	// given rendered message. Returns the first match.
	FindTicketIDByMessage(messageID string) (string, bool)
	// Evict removes records not updated since olderThan and returns
	// how many were removed. Eviction is an extension hook; the bridge
	// only calls it when a retention policy is configured.
	Evict(olderThan time.Time) (int, error)
	// Close releases backend resources.
	Close() error
}
