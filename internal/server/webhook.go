package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"

	"gantry/internal/async"
	"gantry/internal/event"
)

type webhookHandler struct {
	secret string
	run    RunFunc
	log    *slog.Logger
}

// Handle verifies and translates one GitHub delivery. Runnable events are
// answered 202 immediately; the run itself happens in the background.
func (h *webhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		h.log.Warn("invalid webhook signature", "delivery", github.DeliveryID(r))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := github.WebHookType(r)
	payload, err := github.ParseWebHook(eventType, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	var ev event.Event
	switch p := payload.(type) {
	case *github.PingEvent:
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case *github.PushEvent:
		ev = eventFromPush(p)
	case *github.PullRequestEvent:
		if !pullRequestRunnable(p.GetAction()) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "action " + p.GetAction()})
			return
		}
		ev = eventFromPullRequest(p)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "event " + eventType})
		return
	}

	h.log.Info("webhook accepted",
		"delivery", github.DeliveryID(r),
		"event", string(ev.Kind),
		"repository", ev.Repository,
		"branch", ev.Branch,
		"changed", len(ev.ChangedPaths),
	)
	async.Dispatch(h.log, "webhook run", func() { h.run(ev) })

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *webhookHandler) verifySignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// pullRequestRunnable filters PR actions down to the ones that change code.
func pullRequestRunnable(action string) bool {
	switch action {
	case "opened", "synchronize", "reopened":
		return true
	}
	return false
}

func eventFromPush(p *github.PushEvent) event.Event {
	ev := event.Event{
		Kind:       event.Push,
		SHA:        p.GetAfter(),
		Repository: p.GetRepo().GetFullName(),
	}
	// Tag pushes keep Branch empty; filters treat the branch as unknown.
	if branch, ok := strings.CutPrefix(p.GetRef(), "refs/heads/"); ok {
		ev.Branch = branch
	}

	seen := make(map[string]struct{})
	add := func(paths []string) {
		for _, path := range paths {
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			ev.ChangedPaths = append(ev.ChangedPaths, path)
		}
	}
	for _, c := range p.Commits {
		add(c.Added)
		add(c.Removed)
		add(c.Modified)
	}
	return ev
}

// eventFromPullRequest uses the base branch for trigger filters and the head
// commit as the tested revision.
func eventFromPullRequest(p *github.PullRequestEvent) event.Event {
	pr := p.GetPullRequest()
	return event.Event{
		Kind:       event.PullRequest,
		Branch:     pr.GetBase().GetRef(),
		SHA:        pr.GetHead().GetSHA(),
		Repository: p.GetRepo().GetFullName(),
	}
}
