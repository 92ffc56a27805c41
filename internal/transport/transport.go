// Package transport defines the contract between the bridge core and
// the chat platforms it speaks through (Teams, Slack, Telegram).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
)

// TurnHandle is the set of operations available while a conversation
// turn is open, either in response to a live inbound event or after
// re-entering a conversation via Continue.
type TurnHandle interface {
	// SendCard posts a new card message and returns the platform id of
	// the created message.
	SendCard(ctx context.Context, c card.Card) (messageID string, err error)
	// UpdateCard replaces the content of an existing message in place.
	UpdateCard(ctx context.Context, messageID string, c card.Card) error
	// SendText posts a plain text message.
	SendText(ctx context.Context, text string) error
}

// Transport is a chat platform the bridge can speak through.
type Transport interface {
	// Name returns the platform tag used in reference envelopes
	// (e.g., "teams", "slack").
	Name() string
	// Continue re-opens a turn in the conversation identified by ref,
	// out-of-band, and invokes fn with a handle scoped to it. Any error
	// from fn or from re-establishing the turn is returned as a
	// *ConversationError.
	Continue(ctx context.Context, ref json.RawMessage, fn func(TurnHandle) error) error
}

// ConversationError reports a failed attempt to speak into a
// conversation.
type ConversationError struct {
	Transport string
	Err       error
}

func (e *ConversationError) Error() string {
	return fmt.Sprintf("conversation (%s): %v", e.Transport, e.Err)
}

func (e *ConversationError) Unwrap() error { return e.Err }

// Kind classifies a normalized inbound event.
type Kind string

const (
	KindMessage    Kind = "message"
	KindCardSubmit Kind = "card_submit"
	KindCardInvoke Kind = "card_invoke"
	KindOther      Kind = "other"
)

// User identifies the person who produced an inbound event.
type User struct {
	ID   string
	Name string
}

// Event is one normalized inbound conversational event. Transports
// parse their platform's wire shapes (message-level submits, nested
// invoke payloads) into this single tagged form before any business
// logic runs.
type Event struct {
	Kind Kind
	// Text is the plain message text, set for KindMessage.
	Text string
	// Verb and Data carry the card interaction, set for
	// KindCardSubmit and KindCardInvoke.
	Verb string
	Data map[string]any
	// SourceMessageID is the id of the message the user acted on
	// (the rendered card), not the id of this event itself.
	SourceMessageID string
	From            User
	// Ref is the reference envelope for the conversation this event
	// arrived on, suitable for Mux.Continue.
	Ref json.RawMessage
}

// Result is the terminal signal of handling one event. Status follows
// HTTP conventions and is returned verbatim at the inbound boundary.
type Result struct {
	Status int
	Body   string
}

// Handler processes one normalized inbound event over its live turn.
type Handler func(ctx context.Context, ev Event, turn TurnHandle) Result

// Reference is the envelope stored in the ticket context store. The
// inner reference is opaque to everything except the transport that
// produced it and is replayed verbatim.
type Reference struct {
	Transport string          `json:"transport"`
	Reference json.RawMessage `json:"reference"`
}

// WrapRef encodes a transport-specific reference into an envelope.
func WrapRef(transportName string, ref any) (json.RawMessage, error) {
	inner, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal reference: %w", err)
	}
	env, err := json.Marshal(Reference{Transport: transportName, Reference: inner})
	if err != nil {
		return nil, fmt.Errorf("transport: marshal envelope: %w", err)
	}
	return env, nil
}

// Mux routes Continue calls to the transport named in the reference
// envelope. It is the bridge's only path into a conversation without a
// live inbound event.
type Mux struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewMux creates an empty transport mux.
func NewMux() *Mux {
	return &Mux{transports: make(map[string]Transport)}
}

// Register adds a transport. Later registrations with the same name
// replace earlier ones.
func (m *Mux) Register(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Name()] = t
}

// Continue decodes the envelope and delegates to the owning transport.
func (m *Mux) Continue(ctx context.Context, ref json.RawMessage, fn func(TurnHandle) error) error {
	var env Reference
	if err := json.Unmarshal(ref, &env); err != nil {
		return &ConversationError{Transport: "unknown", Err: fmt.Errorf("decode reference envelope: %w", err)}
	}
	m.mu.RLock()
	t, ok := m.transports[env.Transport]
	m.mu.RUnlock()
	if !ok {
		return &ConversationError{Transport: env.Transport, Err: fmt.Errorf("no such transport registered")}
	}
	return t.Continue(ctx, ref, fn)
}
