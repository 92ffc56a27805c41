package teams

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oneiocloud/universal-teams-bot/internal/transport"
)

const baseActivity = `{
	"serviceUrl": "https://smba.example.com/emea",
	"channelId": "msteams",
	"from": {"id": "29:user", "name": "Ada"},
	"recipient": {"id": "28:bot", "name": "bridge"},
	"conversation": {"id": "a:conv1"}`

func handle(t *testing.T, body string) transport.Event {
	t.Helper()
	tr := New(Config{}, nil)
	ev, turn, err := tr.HandleActivity(context.Background(), []byte(body))
	if err != nil {
		t.Fatalf("HandleActivity: %v", err)
	}
	if turn == nil {
		t.Fatal("expected a turn handle")
	}
	return ev
}

func TestHandleActivity_Message(t *testing.T) {
	ev := handle(t, baseActivity+`, "type": "message", "text": "create ticket"}`)

	if ev.Kind != transport.KindMessage {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.Text != "create ticket" {
		t.Errorf("text = %q", ev.Text)
	}
	if ev.From.ID != "29:user" || ev.From.Name != "Ada" {
		t.Errorf("from = %+v", ev.From)
	}

	var env transport.Reference
	if err := json.Unmarshal(ev.Ref, &env); err != nil {
		t.Fatalf("ref envelope: %v", err)
	}
	if env.Transport != "teams" {
		t.Errorf("envelope transport = %q", env.Transport)
	}
	var ref Reference
	if err := json.Unmarshal(env.Reference, &ref); err != nil {
		t.Fatalf("inner reference: %v", err)
	}
	if ref.ServiceURL != "https://smba.example.com/emea" || ref.Conversation.ID != "a:conv1" {
		t.Errorf("reference = %+v", ref)
	}
	if ref.Bot.ID != "28:bot" || ref.User.ID != "29:user" {
		t.Errorf("identities swapped: %+v", ref)
	}
}

func TestHandleActivity_Submit(t *testing.T) {
	ev := handle(t, baseActivity+`, "type": "message", "replyToId": "M9",
		"value": {"verb": "approve", "priority": "high"}}`)

	if ev.Kind != transport.KindCardSubmit {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.Verb != "approve" {
		t.Errorf("verb = %q", ev.Verb)
	}
	if ev.SourceMessageID != "M9" {
		t.Errorf("source message = %q", ev.SourceMessageID)
	}
	if ev.Data["priority"] != "high" {
		t.Errorf("data = %v", ev.Data)
	}
	if _, leaked := ev.Data["verb"]; leaked {
		t.Error("verb must be stripped from data")
	}
}

func TestHandleActivity_Invoke(t *testing.T) {
	ev := handle(t, baseActivity+`, "type": "invoke", "name": "adaptiveCard/action", "replyToId": "M9",
		"value": {"action": {"verb": "reject", "data": {"reason": "dup"}}}}`)

	if ev.Kind != transport.KindCardInvoke {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.Verb != "reject" {
		t.Errorf("verb = %q", ev.Verb)
	}
	if ev.Data["reason"] != "dup" {
		t.Errorf("data = %v", ev.Data)
	}
}

func TestHandleActivity_InvokeInputsFallback(t *testing.T) {
	ev := handle(t, baseActivity+`, "type": "invoke", "name": "adaptiveCard/action",
		"value": {"action": {"verb": "comment", "inputs": {"text": "hi"}}}}`)

	if ev.Verb != "comment" || ev.Data["text"] != "hi" {
		t.Errorf("ev = %+v", ev)
	}
}

func TestHandleActivity_OtherTypes(t *testing.T) {
	for _, typ := range []string{"conversationUpdate", "typing", "messageReaction"} {
		ev := handle(t, baseActivity+`, "type": "`+typ+`"}`)
		if ev.Kind != transport.KindOther {
			t.Errorf("type %s: kind = %q, want other", typ, ev.Kind)
		}
	}
}

func TestHandleActivity_Malformed(t *testing.T) {
	tr := New(Config{}, nil)
	for _, body := range []string{"not json", "{}"} {
		if _, _, err := tr.HandleActivity(context.Background(), []byte(body)); err == nil {
			t.Errorf("body %q: expected error", body)
		}
	}
}
