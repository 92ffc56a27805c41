// Package bot is the protocol state machine over inbound chat events.
// It is stateless across events; all conversational continuity lives
// in the ticket context store.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
	"github.com/oneiocloud/universal-teams-bot/internal/gateway"
	"github.com/oneiocloud/universal-teams-bot/internal/store"
	"github.com/oneiocloud/universal-teams-bot/internal/transport"
)

const createKeyword = "create ticket"

const usageHint = "say 'create ticket' to start something"

// Gateway is the outbound relay the router needs from the gateway
// client.
type Gateway interface {
	Send(ctx context.Context, ev gateway.Event) error
}

// Router classifies one inbound event at a time and dispatches it to
// the matching flow.
type Router struct {
	Store   store.Store
	Gateway Gateway
	Logger  *slog.Logger

	// NewTicketID overrides ticket id generation (tests).
	NewTicketID func() string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Handle processes one normalized event over its live turn and returns
// the terminal signal for the inbound boundary.
func (r *Router) Handle(ctx context.Context, ev transport.Event, turn transport.TurnHandle) transport.Result {
	switch ev.Kind {
	case transport.KindMessage:
		if strings.ToLower(strings.TrimSpace(ev.Text)) == createKeyword {
			return r.createTicket(ctx, ev, turn)
		}
		return r.unrecognized(ctx, turn)
	case transport.KindCardSubmit, transport.KindCardInvoke:
		return r.relayAction(ctx, ev, turn)
	default:
		r.logger().Debug("ignoring event", "kind", ev.Kind)
		return transport.Result{Status: http.StatusOK}
	}
}

// createTicket renders the status card, persists the correlation, and
// relays the creation event. A gateway failure here is logged and
// swallowed: the user already has a visible card and the turn must not
// fail over a downstream relay issue.
func (r *Router) createTicket(ctx context.Context, ev transport.Event, turn transport.TurnHandle) transport.Result {
	ticketID := r.newTicketID()

	messageID, err := turn.SendCard(ctx, card.Status(ticketID))
	if err != nil {
		r.logger().Error("failed to send status card", "ticket_id", ticketID, "error", err)
		return transport.Result{Status: http.StatusInternalServerError, Body: "failed to send ticket card"}
	}

	if err := r.Store.Put(ticketID, ev.Ref, messageID); err != nil {
		r.logger().Error("failed to persist ticket context", "ticket_id", ticketID, "error", err)
		return transport.Result{Status: http.StatusInternalServerError, Body: "failed to store ticket context"}
	}

	if err := r.Gateway.Send(ctx, gateway.CreatedEvent(ticketID)); err != nil {
		r.logger().Error("ticket_created relay failed, card already sent", "ticket_id", ticketID, "error", err)
	}

	r.logger().Info("ticket created", "ticket_id", ticketID, "message_id", messageID, "user", ev.From.ID)
	return transport.Result{Status: http.StatusOK}
}

// relayAction resolves the owning ticket from the message the user
// acted on and forwards the action to the ticketing system.
func (r *Router) relayAction(ctx context.Context, ev transport.Event, turn transport.TurnHandle) transport.Result {
	ticketID, ok := r.Store.FindTicketIDByMessage(ev.SourceMessageID)
	if !ok {
		r.logger().Warn("card action on unknown message", "message_id", ev.SourceMessageID, "verb", ev.Verb)
		if err := turn.SendText(ctx, "Sorry, I couldn't determine which ticket this action belongs to."); err != nil {
			r.logger().Warn("failed to send lookup-failure reply", "error", err)
		}
		return transport.Result{Status: http.StatusBadRequest, Body: "ticket could not be determined"}
	}

	// Interim card render is best-effort only.
	if err := turn.UpdateCard(ctx, ev.SourceMessageID, card.Processing(ticketID, ev.Verb)); err != nil {
		r.logger().Warn("failed to render processing card", "ticket_id", ticketID, "error", err)
	}

	outbound := gateway.ActionEvent(ticketID, ev.Verb, ev.Data, ev.From.Name, r.now())
	if err := r.Gateway.Send(ctx, outbound); err != nil {
		r.logger().Error("action relay failed", "ticket_id", ticketID, "verb", ev.Verb, "error", err)
		if terr := turn.SendText(ctx, fmt.Sprintf("Failed to relay your action: %v", err)); terr != nil {
			r.logger().Warn("failed to send relay-failure reply", "error", terr)
		}
		return transport.Result{Status: http.StatusInternalServerError, Body: err.Error()}
	}

	if err := turn.SendText(ctx, fmt.Sprintf("Got it, %q sent for ticket %s.", ev.Verb, ticketID)); err != nil {
		r.logger().Warn("failed to send confirmation", "ticket_id", ticketID, "error", err)
	}

	r.logger().Info("action relayed", "ticket_id", ticketID, "verb", ev.Verb, "user", ev.From.ID)
	return transport.Result{Status: http.StatusOK}
}

func (r *Router) unrecognized(ctx context.Context, turn transport.TurnHandle) transport.Result {
	if err := turn.SendText(ctx, usageHint); err != nil {
		r.logger().Warn("failed to send usage hint", "error", err)
	}
	return transport.Result{Status: http.StatusOK}
}

func (r *Router) newTicketID() string {
	if r.NewTicketID != nil {
		return r.NewTicketID()
	}
	return NewTicketID()
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
