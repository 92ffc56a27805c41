// Package slackconn bridges Slack conversations via Socket Mode.
// Cards render as Block Kit; card actions arrive as block_actions
// interactions and are normalized like Teams card submits.
package slackconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
	"github.com/oneiocloud/universal-teams-bot/internal/transport"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
}

// Connector implements transport.Transport for Slack and feeds inbound
// events to the bridge handler.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	config  Config
	handler transport.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// reference is the Slack conversation reference: the channel is enough
// to re-enter the conversation.
type reference struct {
	Channel string `json:"channel"`
}

// New creates a new Slack connector.
func New(cfg Config, handler transport.Handler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	// Test auth and get bot user ID
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until
// context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Continue re-enters a Slack conversation using the stored channel.
func (c *Connector) Continue(_ context.Context, rawRef json.RawMessage, fn func(transport.TurnHandle) error) error {
	var env transport.Reference
	if err := json.Unmarshal(rawRef, &env); err != nil {
		return &transport.ConversationError{Transport: c.Name(), Err: fmt.Errorf("decode envelope: %w", err)}
	}
	var ref reference
	if err := json.Unmarshal(env.Reference, &ref); err != nil {
		return &transport.ConversationError{Transport: c.Name(), Err: fmt.Errorf("decode reference: %w", err)}
	}
	if ref.Channel == "" {
		return &transport.ConversationError{Transport: c.Name(), Err: fmt.Errorf("reference missing channel")}
	}

	if err := fn(&turnHandle{api: c.api, channel: ref.Channel}); err != nil {
		return &transport.ConversationError{Transport: c.Name(), Err: err}
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeInteractive:
				c.handleInteractive(ctx, event)
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		c.handleMessage(ctx, ev)
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages (including our own) and message subtypes
	// (edits, deletes, etc.)
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID || ev.SubType != "" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) || ev.Text == "" {
		return
	}

	c.dispatch(ctx, ev.Channel, transport.Event{
		Kind: transport.KindMessage,
		Text: ev.Text,
		From: transport.User{ID: ev.User},
	})
}

func (c *Connector) handleInteractive(ctx context.Context, event socketmode.Event) {
	callback, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		return
	}

	action := callback.ActionCallback.BlockActions[0]
	data := map[string]any{}
	if action.Value != "" {
		if err := json.Unmarshal([]byte(action.Value), &data); err != nil {
			data = map[string]any{"value": action.Value}
		}
	}

	c.dispatch(ctx, callback.Channel.ID, transport.Event{
		Kind:            transport.KindCardSubmit,
		Verb:            action.ActionID,
		Data:            data,
		SourceMessageID: callback.Container.MessageTs,
		From:            transport.User{ID: callback.User.ID, Name: callback.User.Name},
	})
}

func (c *Connector) dispatch(ctx context.Context, channel string, ev transport.Event) {
	env, err := transport.WrapRef(c.Name(), reference{Channel: channel})
	if err != nil {
		c.logger.Error("failed to build reference", "channel", channel, "error", err)
		return
	}
	ev.Ref = env

	result := c.handler(ctx, ev, &turnHandle{api: c.api, channel: channel})
	if result.Status >= http.StatusBadRequest {
		c.logger.Warn("inbound event failed",
			"channel", channel,
			"kind", ev.Kind,
			"status", result.Status,
			"detail", result.Body,
		)
	}
}

func (c *Connector) isAllowedChannel(channel string) bool {
	if len(c.config.Channels) == 0 {
		return true
	}
	for _, ch := range c.config.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// turnHandle renders into one Slack channel. Message ids are Slack
// timestamps.
type turnHandle struct {
	api     *slack.Client
	channel string
}

func (h *turnHandle) SendCard(ctx context.Context, c card.Card) (string, error) {
	_, ts, err := h.api.PostMessageContext(ctx, h.channel,
		slack.MsgOptionBlocks(CardBlocks(c)...),
		slack.MsgOptionText(cardFallback(c), false),
	)
	if err != nil {
		return "", fmt.Errorf("slack: send card: %w", err)
	}
	return ts, nil
}

func (h *turnHandle) UpdateCard(ctx context.Context, messageID string, c card.Card) error {
	_, _, _, err := h.api.UpdateMessageContext(ctx, h.channel, messageID,
		slack.MsgOptionBlocks(CardBlocks(c)...),
		slack.MsgOptionText(cardFallback(c), false),
	)
	if err != nil {
		return fmt.Errorf("slack: update card: %w", err)
	}
	return nil
}

func (h *turnHandle) SendText(ctx context.Context, text string) error {
	_, _, err := h.api.PostMessageContext(ctx, h.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}
