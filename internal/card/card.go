// Package card models Adaptive Card payloads: the documents rendered
// into conversations, the bridge's own status cards, and schema
// validation of cards pushed by the ticketing system.
package card

import "fmt"

// ContentType is the attachment content type Teams uses for Adaptive
// Cards.
const ContentType = "application/vnd.microsoft.card.adaptive"

// SchemaURL points at the published Adaptive Card schema.
const SchemaURL = "http://adaptivecards.io/schemas/adaptive-card.json"

// Card is an arbitrary card document. Validity is defined by the
// published schema, not by this package.
type Card map[string]any

// Status builds the card rendered when a ticket is created. The ticket
// id is embedded so the user can reference it; the body is replaced
// later by pushed updates.
func Status(ticketID string) Card {
	return Card{
		"type":    "AdaptiveCard",
		"$schema": SchemaURL,
		"version": "1.4",
		"body": []any{
			map[string]any{
				"type":   "TextBlock",
				"size":   "Medium",
				"weight": "Bolder",
				"text":   fmt.Sprintf("Ticket %s", ticketID),
			},
			map[string]any{
				"type":     "TextBlock",
				"text":     "Creating your ticket, hang tight...",
				"wrap":     true,
				"isSubtle": true,
			},
		},
	}
}

// Processing builds the interim card shown while an action is being
// relayed to the ticketing system.
func Processing(ticketID, verb string) Card {
	return Card{
		"type":    "AdaptiveCard",
		"$schema": SchemaURL,
		"version": "1.4",
		"body": []any{
			map[string]any{
				"type":   "TextBlock",
				"size":   "Medium",
				"weight": "Bolder",
				"text":   fmt.Sprintf("Ticket %s", ticketID),
			},
			map[string]any{
				"type":     "TextBlock",
				"text":     fmt.Sprintf("Processing %q...", verb),
				"wrap":     true,
				"isSubtle": true,
			},
		},
	}
}
