package teams

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
	"github.com/oneiocloud/universal-teams-bot/internal/transport"
)

// connectorStub fakes the Bot Framework connector REST surface plus the
// token endpoint.
type connectorStub struct {
	srv          *httptest.Server
	tokenFetches atomic.Int64
	posted       []capturedActivity
	updated      []capturedActivity
}

type capturedActivity struct {
	path string
	auth string
	act  Activity
}

func newConnectorStub(t *testing.T) *connectorStub {
	t.Helper()
	s := &connectorStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenFetches.Add(1)
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("bad token request: %v %v", err, r.Form)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("POST /v3/conversations/{conv}/activities", func(w http.ResponseWriter, r *http.Request) {
		var act Activity
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &act)
		s.posted = append(s.posted, capturedActivity{path: r.URL.Path, auth: r.Header.Get("Authorization"), act: act})
		json.NewEncoder(w).Encode(map[string]string{"id": "M42"})
	})
	mux.HandleFunc("PUT /v3/conversations/{conv}/activities/{id}", func(w http.ResponseWriter, r *http.Request) {
		var act Activity
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &act)
		s.updated = append(s.updated, capturedActivity{path: r.URL.Path, auth: r.Header.Get("Authorization"), act: act})
		w.WriteHeader(http.StatusOK)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *connectorStub) transport() *Transport {
	return New(Config{
		AppID:       "app-1",
		AppPassword: "pw",
		TokenURL:    s.srv.URL + "/token",
		Scope:       "https://api.botframework.com/.default",
	}, nil)
}

func (s *connectorStub) reference() Reference {
	return Reference{
		ServiceURL:   s.srv.URL,
		ChannelID:    "msteams",
		Conversation: Conversation{ID: "conv1"},
		Bot:          Account{ID: "28:bot"},
		User:         Account{ID: "29:user"},
	}
}

func TestTurnHandle_SendCard(t *testing.T) {
	stub := newConnectorStub(t)
	h := &turnHandle{t: stub.transport(), ref: stub.reference()}

	id, err := h.SendCard(context.Background(), card.Status("T1"))
	if err != nil {
		t.Fatalf("SendCard: %v", err)
	}
	if id != "M42" {
		t.Errorf("message id = %q", id)
	}
	if len(stub.posted) != 1 {
		t.Fatalf("posted %d activities", len(stub.posted))
	}
	got := stub.posted[0]
	if got.auth != "Bearer tok-1" {
		t.Errorf("auth = %q", got.auth)
	}
	if len(got.act.Attachments) != 1 || got.act.Attachments[0].ContentType != card.ContentType {
		t.Errorf("attachments = %+v", got.act.Attachments)
	}
}

func TestTurnHandle_UpdateCard(t *testing.T) {
	stub := newConnectorStub(t)
	h := &turnHandle{t: stub.transport(), ref: stub.reference()}

	if err := h.UpdateCard(context.Background(), "M42", card.Processing("T1", "approve")); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	if len(stub.updated) != 1 {
		t.Fatalf("updated %d activities", len(stub.updated))
	}
	if got := stub.updated[0].path; got != "/v3/conversations/conv1/activities/M42" {
		t.Errorf("path = %q", got)
	}
}

func TestTurnHandle_SendText(t *testing.T) {
	stub := newConnectorStub(t)
	h := &turnHandle{t: stub.transport(), ref: stub.reference()}

	if err := h.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(stub.posted) != 1 || stub.posted[0].act.Text != "hi" {
		t.Errorf("posted = %+v", stub.posted)
	}
}

func TestBearer_Cached(t *testing.T) {
	stub := newConnectorStub(t)
	h := &turnHandle{t: stub.transport(), ref: stub.reference()}

	for i := 0; i < 3; i++ {
		if err := h.SendText(context.Background(), "hi"); err != nil {
			t.Fatalf("SendText #%d: %v", i, err)
		}
	}
	if n := stub.tokenFetches.Load(); n != 1 {
		t.Errorf("token fetched %d times, want 1", n)
	}
}

func TestCall_NoAuthWithoutAppID(t *testing.T) {
	stub := newConnectorStub(t)
	tr := New(Config{TokenURL: stub.srv.URL + "/token"}, nil)
	h := &turnHandle{t: tr, ref: stub.reference()}

	if err := h.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if stub.posted[0].auth != "" {
		t.Errorf("auth = %q, want none", stub.posted[0].auth)
	}
	if stub.tokenFetches.Load() != 0 {
		t.Error("token endpoint should not be hit without an app id")
	}
}

func TestContinue(t *testing.T) {
	stub := newConnectorStub(t)
	tr := stub.transport()

	env, err := transport.WrapRef(tr.Name(), stub.reference())
	if err != nil {
		t.Fatalf("WrapRef: %v", err)
	}

	err = tr.Continue(context.Background(), env, func(h transport.TurnHandle) error {
		return h.SendText(context.Background(), "proactive")
	})
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if len(stub.posted) != 1 || stub.posted[0].act.Text != "proactive" {
		t.Errorf("posted = %+v", stub.posted)
	}
}

func TestContinue_InvalidReference(t *testing.T) {
	tr := New(Config{}, nil)

	cases := []json.RawMessage{
		[]byte(`garbage`),
		[]byte(`{"transport":"teams","reference":"not an object"}`),
		[]byte(`{"transport":"teams","reference":{}}`),
	}
	for _, ref := range cases {
		err := tr.Continue(context.Background(), ref, func(transport.TurnHandle) error { return nil })
		var cerr *transport.ConversationError
		if !errors.As(err, &cerr) {
			t.Errorf("ref %s: err = %v, want *ConversationError", ref, err)
		}
	}
}

func TestContinue_WrapsCallbackError(t *testing.T) {
	stub := newConnectorStub(t)
	tr := stub.transport()
	env, _ := transport.WrapRef(tr.Name(), stub.reference())

	sentinel := errors.New("boom")
	err := tr.Continue(context.Background(), env, func(transport.TurnHandle) error { return sentinel })

	var cerr *transport.ConversationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConversationError", err)
	}
	if !errors.Is(err, sentinel) {
		t.Error("callback error should be wrapped, not replaced")
	}
}
