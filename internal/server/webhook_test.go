package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"gantry/internal/event"
)

const testSecret = "s3cret"

func signFor(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recordingRun(ch chan event.Event) RunFunc {
	return func(ev event.Event) { ch <- ev }
}

func waitEvent(t *testing.T, ch chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("run was never dispatched")
		return event.Event{}
	}
}

func assertNoRun(t *testing.T, ch chan event.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected run dispatched: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// postHook sends one delivery straight to the handler. An empty signature
// means "sign it properly".
func postHook(t *testing.T, h *webhookHandler, eventType, signature string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "test-delivery")
	if signature == "" {
		signature = signFor(testSecret, payload)
	}
	if signature != "none" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}

	w := httptest.NewRecorder()
	h.Handle(w, req)
	return w
}

func pushPayload() []byte {
	return []byte(`{
		"ref": "refs/heads/main",
		"after": "abc1234",
		"repository": {"full_name": "acme/widgets"},
		"commits": [
			{"added": ["pkg/a.py"], "removed": [], "modified": ["README.md"]},
			{"added": [], "removed": ["old.txt"], "modified": ["pkg/a.py"]}
		]
	}`)
}

func TestWebhookSignatureVerification(t *testing.T) {
	tests := []struct {
		name       string
		signature  string
		wantStatus int
	}{
		{name: "valid signature", signature: "", wantStatus: http.StatusAccepted},
		{name: "invalid signature", signature: "sha256=deadbeef", wantStatus: http.StatusUnauthorized},
		{name: "missing signature", signature: "none", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan event.Event, 1)
			h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

			w := postHook(t, h, "push", tt.signature, pushPayload())
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusAccepted {
				assertNoRun(t, ch)
			}
		})
	}
}

func TestWebhookPushEvent(t *testing.T) {
	ch := make(chan event.Event, 1)
	h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

	w := postHook(t, h, "push", "", pushPayload())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	ev := waitEvent(t, ch)
	if ev.Kind != event.Push {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if ev.Branch != "main" || ev.SHA != "abc1234" || ev.Repository != "acme/widgets" {
		t.Fatalf("event = %+v", ev)
	}
	want := []string{"pkg/a.py", "README.md", "old.txt"}
	if !reflect.DeepEqual(ev.ChangedPaths, want) {
		t.Fatalf("changed paths = %v, want %v", ev.ChangedPaths, want)
	}
}

func TestWebhookTagPushHasNoBranch(t *testing.T) {
	ch := make(chan event.Event, 1)
	h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

	payload := []byte(`{"ref": "refs/tags/v1.0.0", "after": "abc1234", "repository": {"full_name": "acme/widgets"}}`)
	if w := postHook(t, h, "push", "", payload); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}

	if ev := waitEvent(t, ch); ev.Branch != "" {
		t.Fatalf("branch = %q, want empty for tag pushes", ev.Branch)
	}
}

func TestWebhookPullRequestEvent(t *testing.T) {
	payload := []byte(`{
		"action": "opened",
		"number": 7,
		"pull_request": {
			"base": {"ref": "main"},
			"head": {"ref": "feature/x", "sha": "def5678"}
		},
		"repository": {"full_name": "acme/widgets"}
	}`)

	ch := make(chan event.Event, 1)
	h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

	if w := postHook(t, h, "pull_request", "", payload); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}

	ev := waitEvent(t, ch)
	if ev.Kind != event.PullRequest {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if ev.Branch != "main" {
		t.Fatalf("branch = %q, want the base branch", ev.Branch)
	}
	if ev.SHA != "def5678" || ev.Repository != "acme/widgets" {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.ChangedPaths) != 0 {
		t.Fatalf("changed paths = %v, want none for pull requests", ev.ChangedPaths)
	}
}

func TestWebhookIgnoresInertPullRequestActions(t *testing.T) {
	payload := []byte(`{"action": "labeled", "pull_request": {"base": {"ref": "main"}}, "repository": {"full_name": "acme/widgets"}}`)

	ch := make(chan event.Event, 1)
	h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

	w := postHook(t, h, "pull_request", "", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	assertNoRun(t, ch)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	ch := make(chan event.Event, 1)
	h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

	w := postHook(t, h, "issues", "", []byte(`{"action": "opened"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	assertNoRun(t, ch)
}

func TestWebhookPing(t *testing.T) {
	ch := make(chan event.Event, 1)
	h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

	w := postHook(t, h, "ping", "", []byte(`{"zen": "Keep it logically awesome.", "hook_id": 1}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	assertNoRun(t, ch)
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	ch := make(chan event.Event, 1)
	h := &webhookHandler{secret: testSecret, run: recordingRun(ch), log: quietLogger()}

	if w := postHook(t, h, "push", "", []byte("{")); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	assertNoRun(t, ch)
}
