package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gh "gantry/internal/github"
	"gantry/internal/pkgindex"
)

// fakeForge is a minimal GitHub releases API plus package index rolled
// into one test server.
type fakeForge struct {
	indexVersion string // "" means 404 from the index
	existing     []map[string]any
	created      []map[string]any
}

func (f *fakeForge) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/", func(w http.ResponseWriter, r *http.Request) {
		if f.indexVersion == "" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"info": {"version": %q}}`, f.indexVersion)
	})
	mux.HandleFunc("/api/v3/repos/acme/demo/releases", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if err := json.NewEncoder(w).Encode(f.existing); err != nil {
				t.Errorf("encode releases: %v", err)
			}
		case http.MethodPost:
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode create request: %v", err)
			}
			f.created = append(f.created, body)
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"id": 1, "tag_name": %q, "draft": true, "html_url": "https://example.com/releases/1"}`, body["tag_name"])
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func newTestDrafter(t *testing.T, forge *fakeForge, dryRun bool) *Drafter {
	t.Helper()
	srv := httptest.NewServer(forge.handler(t))
	t.Cleanup(srv.Close)

	client, err := gh.NewClient(context.Background(), "", gh.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	idx := pkgindex.New(srv.URL)
	idx.SetHTTPClient(srv.Client())

	return &Drafter{
		GitHub:  client,
		Index:   idx,
		Repo:    "acme/demo",
		Package: "demo",
		DryRun:  dryRun,
	}
}

func TestDrafterSkipsWhenUpToDate(t *testing.T) {
	forge := &fakeForge{indexVersion: "0.9.3"}
	d := newTestDrafter(t, forge, false)

	out, err := d.Run(context.Background(), "0.9.3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != ActionSkipped {
		t.Fatalf("action = %q, want %q", out.Action, ActionSkipped)
	}
	if len(forge.created) != 0 {
		t.Fatalf("created %d releases, want 0", len(forge.created))
	}
}

func TestDrafterRejectsBehindVersion(t *testing.T) {
	forge := &fakeForge{indexVersion: "1.0.0"}
	d := newTestDrafter(t, forge, false)

	_, err := d.Run(context.Background(), "0.9.3")
	if err == nil || !strings.Contains(err.Error(), "behind") {
		t.Fatalf("err = %v, want behind error", err)
	}
}

func TestDrafterCreatesDraft(t *testing.T) {
	forge := &fakeForge{indexVersion: "0.9.3"}
	d := newTestDrafter(t, forge, false)

	out, err := d.Run(context.Background(), "0.10.0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != ActionDrafted {
		t.Fatalf("action = %q, want %q", out.Action, ActionDrafted)
	}
	if out.Tag != "v0.10.0" {
		t.Fatalf("tag = %q", out.Tag)
	}
	if out.URL == "" {
		t.Fatal("missing release URL")
	}
	if len(forge.created) != 1 {
		t.Fatalf("created %d releases, want 1", len(forge.created))
	}
	body := forge.created[0]
	if body["tag_name"] != "v0.10.0" {
		t.Fatalf("tag_name = %v", body["tag_name"])
	}
	if body["draft"] != true {
		t.Fatalf("draft = %v, want true", body["draft"])
	}
	if body["prerelease"] != false {
		t.Fatalf("prerelease = %v, want false", body["prerelease"])
	}
	if body["name"] != "demo 0.10.0" {
		t.Fatalf("name = %v", body["name"])
	}
}

func TestDrafterMarksPrereleases(t *testing.T) {
	forge := &fakeForge{indexVersion: "0.9.3"}
	d := newTestDrafter(t, forge, false)

	out, err := d.Run(context.Background(), "0.10.0rc1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != ActionDrafted {
		t.Fatalf("action = %q", out.Action)
	}
	if forge.created[0]["prerelease"] != true {
		t.Fatalf("prerelease = %v, want true", forge.created[0]["prerelease"])
	}
}

func TestDrafterFirstRelease(t *testing.T) {
	forge := &fakeForge{} // index knows nothing
	d := newTestDrafter(t, forge, false)

	out, err := d.Run(context.Background(), "0.1.0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != ActionDrafted {
		t.Fatalf("action = %q, want %q", out.Action, ActionDrafted)
	}
	if out.Published != "" {
		t.Fatalf("published = %q, want empty", out.Published)
	}
}

func TestDrafterFindsExistingDraft(t *testing.T) {
	forge := &fakeForge{
		indexVersion: "0.9.3",
		existing: []map[string]any{
			{"id": 7, "tag_name": "v0.10.0", "draft": true, "html_url": "https://example.com/releases/7"},
		},
	}
	d := newTestDrafter(t, forge, false)

	out, err := d.Run(context.Background(), "0.10.0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != ActionExists {
		t.Fatalf("action = %q, want %q", out.Action, ActionExists)
	}
	if len(forge.created) != 0 {
		t.Fatalf("created %d releases, want 0", len(forge.created))
	}
}

func TestDrafterDryRun(t *testing.T) {
	forge := &fakeForge{indexVersion: "0.9.3"}
	d := newTestDrafter(t, forge, true)

	out, err := d.Run(context.Background(), "0.10.0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != ActionDryRun {
		t.Fatalf("action = %q, want %q", out.Action, ActionDryRun)
	}
	if len(forge.created) != 0 {
		t.Fatalf("created %d releases, want 0", len(forge.created))
	}
}

func TestDrafterBadRepoSelector(t *testing.T) {
	forge := &fakeForge{indexVersion: "0.9.3"}
	d := newTestDrafter(t, forge, false)
	d.Repo = "not-a-slug"

	if _, err := d.Run(context.Background(), "0.10.0"); err == nil {
		t.Fatal("expected error for bad repo selector")
	}
}
