// Package telegram bridges Telegram chats over long polling. Cards
// render as text plus an inline keyboard; button presses arrive as
// callback queries and are normalized like card submits.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
	"github.com/oneiocloud/universal-teams-bot/internal/transport"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// Connector implements transport.Transport for Telegram and feeds
// inbound updates to the bridge handler.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler transport.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// reference is the Telegram conversation reference.
type reference struct {
	ChatID int64 `json:"chat_id"`
}

// New creates a new Telegram connector.
func New(cfg Config, handler transport.Handler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is
// cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				c.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				c.handleMessage(ctx, update.Message)
			}

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Continue re-enters a Telegram chat using the stored chat id.
func (c *Connector) Continue(_ context.Context, rawRef json.RawMessage, fn func(transport.TurnHandle) error) error {
	var env transport.Reference
	if err := json.Unmarshal(rawRef, &env); err != nil {
		return &transport.ConversationError{Transport: c.Name(), Err: fmt.Errorf("decode envelope: %w", err)}
	}
	var ref reference
	if err := json.Unmarshal(env.Reference, &ref); err != nil {
		return &transport.ConversationError{Transport: c.Name(), Err: fmt.Errorf("decode reference: %w", err)}
	}
	if ref.ChatID == 0 {
		return &transport.ConversationError{Transport: c.Name(), Err: fmt.Errorf("reference missing chat id")}
	}

	if err := fn(&turnHandle{bot: c.bot, chatID: ref.ChatID}); err != nil {
		return &transport.ConversationError{Transport: c.Name(), Err: err}
	}
	return nil
}

func (c *Connector) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !c.allowed(msg.From.ID) {
		c.logger.Warn("unauthorized user", "user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}
	if msg.Text == "" {
		return
	}

	c.dispatch(ctx, msg.Chat.ID, transport.Event{
		Kind: transport.KindMessage,
		Text: msg.Text,
		From: userFrom(msg.From),
	})
}

func (c *Connector) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if !c.allowed(cq.From.ID) {
		return
	}
	if cq.Message == nil {
		return
	}

	// Acknowledge the button press so the client stops its spinner.
	if _, err := c.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		c.logger.Warn("callback ack failed", "error", err)
	}

	c.dispatch(ctx, cq.Message.Chat.ID, transport.Event{
		Kind:            transport.KindCardSubmit,
		Verb:            cq.Data,
		Data:            map[string]any{},
		SourceMessageID: messageID(cq.Message.Chat.ID, cq.Message.MessageID),
		From:            userFrom(cq.From),
	})
}

func (c *Connector) dispatch(ctx context.Context, chatID int64, ev transport.Event) {
	env, err := transport.WrapRef(c.Name(), reference{ChatID: chatID})
	if err != nil {
		c.logger.Error("failed to build reference", "chat_id", chatID, "error", err)
		return
	}
	ev.Ref = env

	result := c.handler(ctx, ev, &turnHandle{bot: c.bot, chatID: chatID})
	if result.Status >= http.StatusBadRequest {
		c.logger.Warn("inbound event failed",
			"chat_id", chatID,
			"kind", ev.Kind,
			"status", result.Status,
			"detail", result.Body,
		)
	}
}

func (c *Connector) allowed(userID int64) bool {
	if len(c.config.AllowFrom) == 0 {
		return true
	}
	for _, id := range c.config.AllowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func userFrom(u *tgbotapi.User) transport.User {
	name := u.UserName
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return transport.User{ID: strconv.FormatInt(u.ID, 10), Name: name}
}

// messageID builds the store key for a rendered message. Telegram
// message ids are only unique per chat, so the chat id is part of the
// key.
func messageID(chatID int64, id int) string {
	return fmt.Sprintf("%d:%d", chatID, id)
}

func splitMessageID(s string) (chatID int64, id int, err error) {
	chatStr, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("telegram: malformed message id %q", s)
	}
	chatID, err = strconv.ParseInt(chatStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: malformed message id %q: %w", s, err)
	}
	id, err = strconv.Atoi(idStr)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: malformed message id %q: %w", s, err)
	}
	return chatID, id, nil
}

// turnHandle renders into one Telegram chat.
type turnHandle struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func (h *turnHandle) SendCard(_ context.Context, c card.Card) (string, error) {
	msg := tgbotapi.NewMessage(h.chatID, cardText(c))
	if markup, ok := cardKeyboard(c); ok {
		msg.ReplyMarkup = markup
	}

	sent, err := h.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram: send card: %w", err)
	}
	return messageID(h.chatID, sent.MessageID), nil
}

func (h *turnHandle) UpdateCard(_ context.Context, msgID string, c card.Card) error {
	chatID, id, err := splitMessageID(msgID)
	if err != nil {
		return err
	}

	var edit tgbotapi.EditMessageTextConfig
	if markup, ok := cardKeyboard(c); ok {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, id, cardText(c), markup)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, id, cardText(c))
	}

	if _, err := h.bot.Send(edit); err != nil {
		return fmt.Errorf("telegram: update card: %w", err)
	}
	return nil
}

func (h *turnHandle) SendText(_ context.Context, text string) error {
	if _, err := h.bot.Send(tgbotapi.NewMessage(h.chatID, text)); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// cardText flattens the card body into plain text, one TextBlock per
// line.
func cardText(c card.Card) string {
	var lines []string
	body, _ := c["body"].([]any)
	for _, item := range body {
		if el, ok := item.(map[string]any); ok {
			if text, _ := el["text"].(string); text != "" {
				lines = append(lines, text)
			}
		}
	}
	if len(lines) == 0 {
		return "Ticket update"
	}
	return strings.Join(lines, "\n")
}

// cardKeyboard turns submit/execute actions into inline keyboard
// buttons carrying the verb as callback data.
func cardKeyboard(c card.Card) (tgbotapi.InlineKeyboardMarkup, bool) {
	actions, _ := c["actions"].([]any)
	var buttons []tgbotapi.InlineKeyboardButton
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
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(title, verb))
	}

	if len(buttons) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...)), true
}
