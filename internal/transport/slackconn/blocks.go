package slackconn

import (
	"encoding/json"
	"strings"

	"github.com/slack-go/slack"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
)

// CardBlocks renders an Adaptive Card into Block Kit: TextBlock
// elements become section blocks and submit/execute actions become
// buttons whose action id is the card verb.
func CardBlocks(c card.Card) []slack.Block {
	var blocks []slack.Block

	body, _ := c["body"].([]any)
	for _, item := range body {
		el, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := el["type"].(string); t != "TextBlock" {
			continue
		}
		text, _ := el["text"].(string)
		if text == "" {
			continue
		}
		if weight, _ := el["weight"].(string); strings.EqualFold(weight, "bolder") {
			text = "*" + text + "*"
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	}

	if buttons := actionButtons(c); len(buttons) > 0 {
		blocks = append(blocks, slack.NewActionBlock("card_actions", buttons...))
	}

	if len(blocks) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, cardFallback(c), false, false), nil, nil))
	}
	return blocks
}

func actionButtons(c card.Card) []slack.BlockElement {
	actions, _ := c["actions"].([]any)
	var buttons []slack.BlockElement
	for _, item := range actions {
		el, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t, _ := el["type"].(string)
		if t != "Action.Submit" && t != "Action.Execute" {
			continue
		}

		verb, _ := el["verb"].(string)
		if verb == "" {
			if data, ok := el["data"].(map[string]any); ok {
				verb, _ = data["verb"].(string)
			}
		}
		if verb == "" {
			continue
		}

		title, _ := el["title"].(string)
		if title == "" {
			title = verb
		}

		value := ""
		if data, ok := el["data"].(map[string]any); ok {
			// Copy before stripping the verb; the caller's card must not
			// change as a side effect of rendering.
			payload := make(map[string]any, len(data))
			for k, v := range data {
				if k != "verb" {
					payload[k] = v
				}
			}
			if len(payload) > 0 {
				if raw, err := json.Marshal(payload); err == nil {
					value = string(raw)
				}
			}
		}

		buttons = append(buttons, slack.NewButtonBlockElement(verb, value,
			slack.NewTextBlockObject(slack.PlainTextType, title, false, false)))
	}
	return buttons
}

// cardFallback extracts the first text of the card for notification
// previews and block-free clients.
func cardFallback(c card.Card) string {
	body, _ := c["body"].([]any)
	for _, item := range body {
		if el, ok := item.(map[string]any); ok {
			if text, _ := el["text"].(string); text != "" {
				return text
			}
		}
	}
	return "Ticket update"
}
