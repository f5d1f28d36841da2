package builtin

import (
	"context"
	"fmt"
	"strings"

	"gantry/internal/checks"
	"gantry/internal/glob"
)

type ReleasePathFilteredCheck struct {
	versionFile string
}

func (c *ReleasePathFilteredCheck) ID() string {
	return "release-path-filtered"
}

func (c *ReleasePathFilteredCheck) Title() string {
	return "Release Triggered By Version File"
}

func (c *ReleasePathFilteredCheck) Description() string {
	return "Verifies that some workflow's push trigger carries a paths filter matching the version file, " +
		"so bumping the version is what sets release automation in motion. Without the filter the release " +
		"workflow either runs on every push or never runs at all."
}

func (c *ReleasePathFilteredCheck) Options() []checks.Option {
	return []checks.Option{
		{
			Name:        "version-file",
			Description: "Repository-relative path of the version file.",
			Default:     "VERSION",
		},
	}
}

func (c *ReleasePathFilteredCheck) Configure(opts map[string]string) error {
	c.versionFile = "VERSION"
	if v := strings.TrimSpace(opts["version-file"]); v != "" {
		c.versionFile = v
	}
	return nil
}

func (c *ReleasePathFilteredCheck) Evaluate(ctx context.Context, repo *checks.Context) (checks.Result, error) {
	workflows, wfErr := repo.Workflows()
	if len(workflows) == 0 {
		if wfErr != nil {
			return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("No parsable workflows: %v", wfErr)), nil
		}
		return checks.FailResult(repo, c.ID(), "No workflows found"), nil
	}

	for _, wf := range workflows {
		push := wf.On.Push
		if push == nil || len(push.Paths) == 0 {
			continue
		}
		if glob.MatchAny(push.Paths, c.versionFile) {
			return checks.PassResultWithMessage(repo, c.ID(),
				fmt.Sprintf("Workflow %q triggers on pushes touching %s", wf.Name, c.versionFile)), nil
		}
	}
	return checks.FailResult(repo, c.ID(),
		fmt.Sprintf("No workflow has a push paths filter matching %s", c.versionFile)), nil
}

func init() {
	c := &ReleasePathFilteredCheck{}
	_ = c.Configure(map[string]string{})
	checks.Register(c)
}
