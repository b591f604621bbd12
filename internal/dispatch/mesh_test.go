package dispatch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/pi-messenger/internal/inbox"
	"github.com/untoldecay/pi-messenger/internal/registry"
)

func TestSendDeliversToInbox(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)
	newAgent(t, "beta", proj)

	res := call(t, a, `{"action":"send","to":"beta","message":"claims API ready"}`)
	if res.Err() != "" {
		t.Fatalf("send: %v", res)
	}
	if res.Text != "Message sent to beta." {
		t.Errorf("text = %q", res.Text)
	}

	var got []inbox.Message
	if _, err := inbox.Drain("beta", func(m inbox.Message) { got = append(got, m) }); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("pending = %d, want 1", len(got))
	}
	m := got[0]
	if m.From != "alpha" || m.To != "beta" || m.Text != "claims API ready" {
		t.Errorf("message = %+v", m)
	}
	if m.ReplyTo != nil {
		t.Errorf("replyTo = %v, want nil", m.ReplyTo)
	}
}

func TestSendThreadsReply(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)
	newAgent(t, "beta", proj)

	res := call(t, a, `{"action":"send","to":"beta","message":"re: ping","replyTo":"msg-abc123"}`)
	if res.Err() != "" {
		t.Fatalf("send: %v", res)
	}
	var got []inbox.Message
	inbox.Drain("beta", func(m inbox.Message) { got = append(got, m) })
	if len(got) != 1 || got[0].ReplyTo == nil || *got[0].ReplyTo != "msg-abc123" {
		t.Errorf("messages = %+v", got)
	}
}

func TestSendValidation(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)

	cases := []struct {
		record string
		want   string
	}{
		{`{"action":"send","to":"beta"}`, KindMissingMessage},
		{`{"action":"send","message":"hi"}`, KindMissingRecipient},
		{`{"action":"send","to":[],"message":"hi"}`, KindEmptyRecipients},
		{`{"action":"send","to":["  ",""],"message":"hi"}`, KindEmptyRecipients},
		{`{"action":"send","to":"alpha","message":"hi"}`, KindCannotSendToSelf},
		{`{"action":"send","to":"nobody","message":"hi"}`, KindRecipientNotFound},
	}
	for _, tc := range cases {
		res := call(t, a, tc.record)
		if res.Err() != tc.want {
			t.Errorf("%s error = %q, want %q", tc.record, res.Err(), tc.want)
		}
	}
}

func TestSendDistinguishesDeadRecipient(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)

	// Refresh discovery, then drop a dead record behind the cache. The
	// stale record survives on disk while the cached active set never
	// saw it, which is the shape a crashed agent leaves.
	if _, err := registry.ActiveAgents(); err != nil {
		t.Fatal(err)
	}
	if err := registry.Save(&registry.Record{
		Name:      "ghost",
		PID:       deadPID,
		SessionID: "sess-ghost",
		StartedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	res := call(t, a, `{"action":"send","to":"ghost","message":"hi"}`)
	if res.Err() != KindRecipientNotActive {
		t.Errorf("error = %q, want %q", res.Err(), KindRecipientNotActive)
	}
	if !strings.Contains(res.Text, "no longer active") {
		t.Errorf("text = %q", res.Text)
	}
}

func TestSendMultiRecipientPartialFailure(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)
	newAgent(t, "beta", proj)

	res := call(t, a, `{"action":"send","to":["beta","nobody"],"message":"hi"}`)
	if res.Err() != "" {
		t.Fatalf("partial delivery should not be an error: %v", res)
	}
	if !strings.HasPrefix(res.Text, "Message sent to beta.") {
		t.Errorf("text = %q", res.Text)
	}
	if !strings.Contains(res.Text, "Failed: nobody (recipient_not_found)") {
		t.Errorf("failure suffix missing: %q", res.Text)
	}
	failed, ok := res.Details["failed"].(map[string]string)
	if !ok || failed["nobody"] != KindRecipientNotFound {
		t.Errorf("failed detail = %v", res.Details["failed"])
	}
}

func TestSendDeduplicatesRecipients(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)
	newAgent(t, "beta", proj)

	res := call(t, a, `{"action":"send","to":["beta","beta"],"message":"once"}`)
	if res.Err() != "" {
		t.Fatalf("send: %v", res)
	}
	if n, _ := inbox.Pending("beta"); n != 1 {
		t.Errorf("pending = %d, want 1 delivery", n)
	}
}

func TestBroadcast(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)
	newAgent(t, "beta", proj)
	newAgent(t, "gamma", proj)

	res := call(t, a, `{"action":"broadcast","message":"standup in 5"}`)
	if res.Err() != "" {
		t.Fatalf("broadcast: %v", res)
	}
	if res.Text != "Broadcast sent to 2 agent(s)." {
		t.Errorf("text = %q", res.Text)
	}
	for _, name := range []string{"beta", "gamma"} {
		if n, _ := inbox.Pending(name); n != 1 {
			t.Errorf("%s pending = %d, want 1", name, n)
		}
	}
	if n, _ := inbox.Pending("alpha"); n != 0 {
		t.Errorf("sender should not receive its own broadcast")
	}
}

func TestBroadcastWithoutPeers(t *testing.T) {
	setupBase(t)
	a := newAgent(t, "alpha", t.TempDir())
	res := call(t, a, `{"action":"broadcast","message":"anyone?"}`)
	if res.Err() != KindNoRecipients {
		t.Errorf("error = %q, want %q", res.Err(), KindNoRecipients)
	}
}

func TestReserveAndRelease(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)

	res := call(t, a, `{"action":"reserve","paths":["src/api/","docs/plan.md"],"reason":"refactor"}`)
	if res.Err() != "" {
		t.Fatalf("reserve: %v", res)
	}
	if !strings.Contains(res.Text, "Reserved 2 path(s)") {
		t.Errorf("text = %q", res.Text)
	}

	rec, _, _ := registry.Load("alpha")
	if len(rec.Reservations) != 2 || rec.Reservations[0].Reason != "refactor" {
		t.Errorf("reservations = %+v", rec.Reservations)
	}

	res = call(t, a, `{"action":"release","paths":"docs/plan.md"}`)
	if res.Text != "Released 1 reservation(s)." {
		t.Errorf("text = %q", res.Text)
	}

	res = call(t, a, `{"action":"release"}`)
	if res.Text != "Released 1 reservation(s)." {
		t.Errorf("release-all text = %q", res.Text)
	}
	rec, _, _ = registry.Load("alpha")
	if len(rec.Reservations) != 0 {
		t.Errorf("reservations should be empty: %+v", rec.Reservations)
	}

	res = call(t, a, `{"action":"release"}`)
	if res.Text != "No reservations released." {
		t.Errorf("empty release text = %q", res.Text)
	}
}

func TestReserveWarnsOnOverlap(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	a := newAgent(t, "alpha", proj)
	b := newAgent(t, "beta", proj)

	if res := call(t, a, `{"action":"reserve","paths":"src/","reason":"sweeping edit"}`); res.Err() != "" {
		t.Fatalf("reserve: %v", res)
	}

	res := call(t, b, `{"action":"reserve","paths":"src/api.go"}`)
	if res.Err() != "" {
		t.Fatalf("overlapping reserve should still succeed: %v", res)
	}
	if !strings.Contains(res.Text, "Warning:") || !strings.Contains(res.Text, "alpha") {
		t.Errorf("overlap warning missing: %q", res.Text)
	}
	conflicts, ok := res.Details["conflicts"].([]map[string]string)
	if !ok || len(conflicts) != 1 || conflicts[0]["agent"] != "alpha" {
		t.Errorf("conflicts detail = %v", res.Details["conflicts"])
	}
}

func TestReserveValidation(t *testing.T) {
	setupBase(t)
	a := newAgent(t, "alpha", t.TempDir())

	if res := call(t, a, `{"action":"reserve"}`); res.Err() != KindMissingPaths {
		t.Errorf("error = %q, want %q", res.Err(), KindMissingPaths)
	}
	if res := call(t, a, `{"action":"reserve","paths":["  "]}`); res.Err() != KindEmptyPatterns {
		t.Errorf("error = %q, want %q", res.Err(), KindEmptyPatterns)
	}
}

func TestSendTextForSingleFailedRecipient(t *testing.T) {
	setupBase(t)
	a := newAgent(t, "alpha", t.TempDir())

	res := call(t, a, `{"action":"send","to":"nobody","message":"hi"}`)
	if res.Err() != KindRecipientNotFound {
		t.Fatalf("error = %q", res.Err())
	}
	want := fmt.Sprintf("Error: no agent named %q", "nobody")
	if res.Text != want {
		t.Errorf("text = %q, want %q", res.Text, want)
	}
}
