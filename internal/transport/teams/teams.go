// Package teams speaks the Bot Framework connector REST API: inbound
// activity handling for the /api/messages boundary and proactive
// conversation continuation for pushed card updates.
//
// Verification of the inbound Authorization JWT belongs to the
// fronting transport layer, not to this package.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
	"github.com/oneiocloud/universal-teams-bot/internal/transport"
)

const (
	defaultTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	defaultScope    = "https://api.botframework.com/.default"

	callTimeout = 15 * time.Second
	maxErrBody  = 2 * 1024
)

// Config holds the bot application identity used both to authenticate
// outbound connector calls and to scope proactive re-entry.
type Config struct {
	AppID       string
	AppPassword string
	// TokenURL and Scope override the Bot Framework defaults (tests).
	TokenURL string
	Scope    string
}

// Transport implements transport.Transport for Microsoft Teams.
type Transport struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a Teams transport.
func New(cfg Config, logger *slog.Logger) *Transport {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Scope == "" {
		cfg.Scope = defaultScope
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		client: &http.Client{Timeout: callTimeout},
		logger: logger,
	}
}

func (t *Transport) Name() string { return "teams" }

// HandleActivity parses one inbound activity body into a normalized
// event plus a turn handle scoped to the activity's conversation.
func (t *Transport) HandleActivity(_ context.Context, body []byte) (transport.Event, transport.TurnHandle, error) {
	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return transport.Event{}, nil, fmt.Errorf("teams: parse activity: %w", err)
	}
	if act.Type == "" {
		return transport.Event{}, nil, fmt.Errorf("teams: activity has no type")
	}

	ref := referenceFrom(&act)
	env, err := transport.WrapRef(t.Name(), ref)
	if err != nil {
		return transport.Event{}, nil, err
	}

	ev := transport.Event{
		Kind:            transport.KindOther,
		SourceMessageID: act.ReplyToID,
		Ref:             env,
	}
	if act.From != nil {
		ev.From = transport.User{ID: act.From.ID, Name: act.From.Name}
	}

	switch {
	case act.Type == "invoke" && act.Name == invokeActionName:
		ev.Kind = transport.KindCardInvoke
		ev.Verb, ev.Data = extractInvoke(act.Value)
	case act.Type == "message" && len(act.Value) > 0:
		ev.Kind = transport.KindCardSubmit
		ev.Verb, ev.Data = extractSubmit(act.Value)
	case act.Type == "message":
		ev.Kind = transport.KindMessage
		ev.Text = act.Text
	}

	return ev, &turnHandle{t: t, ref: ref}, nil
}

// Continue re-enters the referenced conversation with the bot
// application's own identity.
func (t *Transport) Continue(ctx context.Context, rawRef json.RawMessage, fn func(transport.TurnHandle) error) error {
	var env transport.Reference
	if err := json.Unmarshal(rawRef, &env); err != nil {
		return &transport.ConversationError{Transport: t.Name(), Err: fmt.Errorf("decode envelope: %w", err)}
	}
	var ref Reference
	if err := json.Unmarshal(env.Reference, &ref); err != nil {
		return &transport.ConversationError{Transport: t.Name(), Err: fmt.Errorf("decode reference: %w", err)}
	}
	if ref.ServiceURL == "" || ref.Conversation.ID == "" {
		return &transport.ConversationError{Transport: t.Name(), Err: fmt.Errorf("reference missing service URL or conversation")}
	}

	if err := fn(&turnHandle{t: t, ref: ref}); err != nil {
		return &transport.ConversationError{Transport: t.Name(), Err: err}
	}
	return nil
}

// turnHandle renders into one Teams conversation.
type turnHandle struct {
	t   *Transport
	ref Reference
}

func (h *turnHandle) SendCard(ctx context.Context, c card.Card) (string, error) {
	return h.t.postActivity(ctx, h.ref, cardActivity(h.ref, "", c))
}

func (h *turnHandle) UpdateCard(ctx context.Context, messageID string, c card.Card) error {
	return h.t.updateActivity(ctx, h.ref, messageID, cardActivity(h.ref, messageID, c))
}

func (h *turnHandle) SendText(ctx context.Context, text string) error {
	act := Activity{Type: "message", Text: text, From: &h.ref.Bot, Recipient: &h.ref.User}
	_, err := h.t.postActivity(ctx, h.ref, act)
	return err
}

func cardActivity(ref Reference, id string, c card.Card) Activity {
	return Activity{
		Type:      "message",
		ID:        id,
		From:      &ref.Bot,
		Recipient: &ref.User,
		Attachments: []Attachment{
			{ContentType: card.ContentType, Content: c},
		},
	}
}

// --- Connector REST calls ---

func (t *Transport) postActivity(ctx context.Context, ref Reference, act Activity) (string, error) {
	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimSuffix(ref.ServiceURL, "/"), url.PathEscape(ref.Conversation.ID))

	resp, err := t.call(ctx, http.MethodPost, endpoint, act)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("teams: decode send response: %w", err)
	}
	return created.ID, nil
}

func (t *Transport) updateActivity(ctx context.Context, ref Reference, activityID string, act Activity) error {
	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities/%s",
		strings.TrimSuffix(ref.ServiceURL, "/"), url.PathEscape(ref.Conversation.ID), url.PathEscape(activityID))

	resp, err := t.call(ctx, http.MethodPut, endpoint, act)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (t *Transport) call(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("teams: encode activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("teams: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if t.cfg.AppID != "" {
		token, err := t.bearer(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("teams: %s %s: %w", method, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		resp.Body.Close()
		return nil, fmt.Errorf("teams: %s %s: HTTP %d: %s", method, endpoint, resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// bearer returns a cached connector token, refreshing it through the
// client-credentials grant when it is within a minute of expiry.
func (t *Transport) bearer(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.tokenExpiry.Add(-time.Minute)) {
		return t.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.cfg.AppID},
		"client_secret": {t.cfg.AppPassword},
		"scope":         {t.cfg.Scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("teams: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("teams: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return "", fmt.Errorf("teams: token request: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("teams: decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("teams: token response missing access_token")
	}

	t.token = tok.AccessToken
	t.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	t.logger.Debug("connector token refreshed", "expires_in", tok.ExpiresIn)
	return t.token, nil
}
