package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeTransport struct {
	name      string
	continued []json.RawMessage
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Continue(_ context.Context, ref json.RawMessage, fn func(TurnHandle) error) error {
	f.continued = append(f.continued, ref)
	return fn(nil)
}

func TestWrapRef(t *testing.T) {
	ref, err := WrapRef("teams", map[string]string{"conversation": "c1"})
	if err != nil {
		t.Fatalf("WrapRef: %v", err)
	}

	var env Reference
	if err := json.Unmarshal(ref, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env.Transport != "teams" {
		t.Errorf("transport = %q", env.Transport)
	}
	var inner map[string]string
	if err := json.Unmarshal(env.Reference, &inner); err != nil {
		t.Fatalf("inner reference is not JSON: %v", err)
	}
	if inner["conversation"] != "c1" {
		t.Errorf("inner = %v", inner)
	}
}

func TestMuxContinue(t *testing.T) {
	teams := &fakeTransport{name: "teams"}
	slack := &fakeTransport{name: "slack"}
	m := NewMux()
	m.Register(teams)
	m.Register(slack)

	ref, _ := WrapRef("slack", map[string]string{"channel": "C1"})
	called := false
	err := m.Continue(context.Background(), ref, func(TurnHandle) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if !called {
		t.Error("fn was not invoked")
	}
	if len(slack.continued) != 1 || len(teams.continued) != 0 {
		t.Errorf("dispatch went to the wrong transport: slack=%d teams=%d",
			len(slack.continued), len(teams.continued))
	}
}

func TestMuxContinue_UnknownTransport(t *testing.T) {
	m := NewMux()
	ref, _ := WrapRef("telegram", map[string]string{})

	err := m.Continue(context.Background(), ref, func(TurnHandle) error { return nil })

	var cerr *ConversationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConversationError", err)
	}
	if cerr.Transport != "telegram" {
		t.Errorf("transport = %q", cerr.Transport)
	}
}

func TestMuxContinue_BadEnvelope(t *testing.T) {
	m := NewMux()
	err := m.Continue(context.Background(), json.RawMessage(`not json`), func(TurnHandle) error { return nil })
	var cerr *ConversationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConversationError", err)
	}
}
