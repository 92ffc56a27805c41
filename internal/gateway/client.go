// Package gateway relays ticket-lifecycle events to the ONEiO
// ticketing backend over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	sendTimeout = 15 * time.Second
	maxErrBody  = 4 * 1024
)

// VerbTicketCreated is the verb relayed when a ticket is first created.
const VerbTicketCreated = "ticket_created"

// Event is one ticket-lifecycle event relayed to the ticketing system.
type Event struct {
	TicketID  string         `json:"ticket_id"`
	Verb      string         `json:"verb"`
	Data      map[string]any `json:"data,omitempty"`
	User      string         `json:"user,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// CreatedEvent builds the creation event for a fresh ticket.
func CreatedEvent(ticketID string) Event {
	return Event{TicketID: ticketID, Verb: VerbTicketCreated}
}

// ActionEvent builds a relay event for a user's card action. The
// timestamp is rendered as UTC RFC 3339 with a trailing Z.
func ActionEvent(ticketID, verb string, data map[string]any, user string, at time.Time) Event {
	return Event{
		TicketID:  ticketID,
		Verb:      verb,
		Data:      data,
		User:      user,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Config is the gateway endpoint and its basic-auth credential pair.
type Config struct {
	URL    string
	Key    string
	Secret string
}

// ConfigError reports missing gateway configuration. It is fatal for
// the call that observed it and never retried.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "gateway: missing configuration: " + strings.Join(e.Missing, ", ")
}

// Error reports a failed relay: a non-2xx response (Status, Body from
// the response) or a transport failure (Status 0).
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "gateway: " + e.Body
	}
	return fmt.Sprintf("gateway: HTTP %d: %s", e.Status, e.Body)
}

// Client posts events to the ticketing system. There is no automatic
// retry; duplicate-event avoidance takes priority over delivery
// guarantees, so retry policy belongs to callers.
type Client struct {
	// Resolve returns the endpoint configuration. It is consulted on
	// every Send so credential rotation does not require a restart.
	Resolve func() Config
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Send performs one synchronous relay of the event.
func (c *Client) Send(ctx context.Context, ev Event) error {
	cfg := c.Resolve()

	var missing []string
	if cfg.URL == "" {
		missing = append(missing, "endpoint URL")
	}
	if cfg.Key == "" {
		missing = append(missing, "API key")
	}
	if cfg.Secret == "" {
		missing = append(missing, "API secret")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("gateway: encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(cfg.Key, cfg.Secret)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &Error{Status: resp.StatusCode, Body: string(respBody)}
	}

	if c.Logger != nil {
		c.Logger.Debug("event relayed", "ticket_id", ev.TicketID, "verb", ev.Verb)
	}
	return nil
}
