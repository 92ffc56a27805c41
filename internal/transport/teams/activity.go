package teams

import (
	"encoding/json"
)

// Activity is the subset of the Bot Framework activity wire format the
// bridge reads and writes.
type Activity struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Text         string          `json:"text,omitempty"`
	Name         string          `json:"name,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	ReplyToID    string          `json:"replyToId,omitempty"`
	ServiceURL   string          `json:"serviceUrl,omitempty"`
	ChannelID    string          `json:"channelId,omitempty"`
	From         *Account        `json:"from,omitempty"`
	Recipient    *Account        `json:"recipient,omitempty"`
	Conversation *Conversation   `json:"conversation,omitempty"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
}

// Account identifies a user or bot on the channel.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conversation identifies the thread an activity belongs to.
type Conversation struct {
	ID string `json:"id"`
}

// Attachment carries a card on a message activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content,omitempty"`
}

// invokeActionName is the invoke activity name for Adaptive Card
// Action.Execute interactions.
const invokeActionName = "adaptiveCard/action"

// Reference is the conversation reference the Teams transport stores
// for later re-entry. It is opaque outside this package.
type Reference struct {
	ServiceURL   string       `json:"serviceUrl"`
	ChannelID    string       `json:"channelId"`
	Conversation Conversation `json:"conversation"`
	Bot          Account      `json:"bot"`
	User         Account      `json:"user"`
}

// referenceFrom derives the conversation reference from an inbound
// activity: the activity's sender becomes the user, its recipient the
// bot.
func referenceFrom(act *Activity) Reference {
	ref := Reference{
		ServiceURL: act.ServiceURL,
		ChannelID:  act.ChannelID,
	}
	if act.Conversation != nil {
		ref.Conversation = *act.Conversation
	}
	if act.Recipient != nil {
		ref.Bot = *act.Recipient
	}
	if act.From != nil {
		ref.User = *act.From
	}
	return ref
}

// extractSubmit normalizes a message-level Action.Submit payload: the
// verb rides on the value itself and everything else is the data.
func extractSubmit(value json.RawMessage) (verb string, data map[string]any) {
	var m map[string]any
	if err := json.Unmarshal(value, &m); err != nil {
		return "", nil
	}
	if v, ok := m["verb"].(string); ok {
		verb = v
		delete(m, "verb")
	}
	return verb, m
}

// extractInvoke normalizes an invoke-level Action.Execute payload: the
// verb and data (or inputs) are nested under an "action" object.
func extractInvoke(value json.RawMessage) (verb string, data map[string]any) {
	var m struct {
		Action struct {
			Verb   string         `json:"verb"`
			Data   map[string]any `json:"data"`
			Inputs map[string]any `json:"inputs"`
		} `json:"action"`
	}
	if err := json.Unmarshal(value, &m); err != nil {
		return "", nil
	}
	data = m.Action.Data
	if data == nil {
		data = m.Action.Inputs
	}
	return m.Action.Verb, data
}
