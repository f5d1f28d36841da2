package release

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v81/github"

	gh "gantry/internal/github"
	"gantry/internal/pkgindex"
)

// Action says what the drafter did (or would have done) for a version.
type Action string

const (
	// ActionSkipped means the branch version is already published.
	ActionSkipped Action = "up-to-date"
	// ActionExists means a draft for this tag is already open.
	ActionExists Action = "draft-exists"
	// ActionDrafted means a new draft release was created.
	ActionDrafted Action = "drafted"
	// ActionDryRun means a draft would have been created.
	ActionDryRun Action = "dry-run"
)

// Outcome describes one drafting decision.
type Outcome struct {
	Package   string `json:"package"`
	Branch    string `json:"branch_version"`
	Published string `json:"published_version,omitempty"`
	Tag       string `json:"tag"`
	Action    Action `json:"action"`
	URL       string `json:"url,omitempty"`
}

// Drafter compares the version committed on a branch against the
// newest version a package index knows and opens a draft GitHub
// release when the branch has moved ahead.
type Drafter struct {
	GitHub  *gh.Client
	Index   *pkgindex.Client
	Repo    string // owner/name
	Package string
	DryRun  bool
}

// Run decides and, unless dry-run, drafts. A branch version older than
// the published one is an error: it means the version file moved
// backwards and a release from this branch would clobber history.
func (d *Drafter) Run(ctx context.Context, branchVersion string) (Outcome, error) {
	out := Outcome{Package: d.Package, Branch: branchVersion}

	branch, err := ParseVersion(branchVersion)
	if err != nil {
		return out, err
	}
	out.Tag = "v" + branch.Raw

	published, err := d.Index.Latest(ctx, d.Package)
	switch {
	case errors.Is(err, pkgindex.ErrNotFound):
		// Nothing published yet: every version is ahead.
	case err != nil:
		return out, err
	default:
		out.Published = published
		pub, err := ParseVersion(published)
		if err != nil {
			return out, fmt.Errorf("index reports unparsable version %q for %s: %w", published, d.Package, err)
		}
		switch Compare(branch, pub) {
		case 0:
			out.Action = ActionSkipped
			return out, nil
		case -1:
			return out, fmt.Errorf("branch version %s is behind published %s for %s", branch, pub, d.Package)
		}
	}

	if d.DryRun {
		out.Action = ActionDryRun
		return out, nil
	}

	owner, name, ok := strings.Cut(d.Repo, "/")
	if !ok || owner == "" || name == "" {
		return out, fmt.Errorf("repository %q must be owner/name", d.Repo)
	}
	if d.GitHub == nil || d.GitHub.Client == nil {
		return out, fmt.Errorf("github client is required to draft releases")
	}

	existing, err := d.findDraft(ctx, owner, name, out.Tag)
	if err != nil {
		return out, err
	}
	if existing != nil {
		out.Action = ActionExists
		out.URL = existing.GetHTMLURL()
		return out, nil
	}

	rel := &github.RepositoryRelease{
		TagName:              github.Ptr(out.Tag),
		Name:                 github.Ptr(d.Package + " " + branch.Raw),
		Draft:                github.Ptr(true),
		Prerelease:           github.Ptr(branch.Prerelease()),
		GenerateReleaseNotes: github.Ptr(true),
	}
	created, _, err := d.GitHub.Client.Repositories.CreateRelease(ctx, owner, name, rel)
	if err != nil {
		return out, fmt.Errorf("creating draft release %s: %w", out.Tag, err)
	}
	out.Action = ActionDrafted
	out.URL = created.GetHTMLURL()
	return out, nil
}

// findDraft looks for an open draft carrying the tag so reruns do not
// pile up duplicate drafts. Drafts have no tag ref yet, so GetReleaseByTag
// cannot see them; the release list can.
func (d *Drafter) findDraft(ctx context.Context, owner, name, tag string) (*github.RepositoryRelease, error) {
	releases, _, err := d.GitHub.Client.Repositories.ListReleases(ctx, owner, name, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("listing releases for %s/%s: %w", owner, name, err)
	}
	for _, rel := range releases {
		if rel.GetDraft() && rel.GetTagName() == tag {
			return rel, nil
		}
	}
	return nil, nil
}
