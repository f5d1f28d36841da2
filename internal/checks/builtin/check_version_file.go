package builtin

import (
	"context"
	"fmt"
	"strings"

	"gantry/internal/checks"
	"gantry/internal/release"
)

type VersionFileCheck struct {
	versionFile string
}

func (c *VersionFileCheck) ID() string {
	return "version-file"
}

func (c *VersionFileCheck) Title() string {
	return "Version File Parses"
}

func (c *VersionFileCheck) Description() string {
	return "Verifies that the version file exists and contains a parsable version. Release drafting reads " +
		"this file, so a missing or malformed version breaks the release pipeline at its first step."
}

func (c *VersionFileCheck) Options() []checks.Option {
	return []checks.Option{
		{
			Name:        "version-file",
			Description: "Repository-relative path of the version file.",
			Default:     "VERSION",
		},
	}
}

func (c *VersionFileCheck) Configure(opts map[string]string) error {
	c.versionFile = "VERSION"
	if v := strings.TrimSpace(opts["version-file"]); v != "" {
		c.versionFile = v
	}
	return nil
}

func (c *VersionFileCheck) Evaluate(ctx context.Context, repo *checks.Context) (checks.Result, error) {
	if !repo.FileExists(c.versionFile) {
		return checks.FailResult(repo, c.ID(), fmt.Sprintf("Version file %s does not exist", c.versionFile)), nil
	}
	data, err := repo.ReadFile(c.versionFile)
	if err != nil {
		return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("Reading %s: %v", c.versionFile, err)), nil
	}
	version, err := release.ParseVersionFile(data)
	if err != nil {
		return checks.FailResult(repo, c.ID(), fmt.Sprintf("%s: %v", c.versionFile, err)), nil
	}
	return checks.PassResultWithMessage(repo, c.ID(), fmt.Sprintf("Version %s", version)), nil
}

func init() {
	c := &VersionFileCheck{}
	_ = c.Configure(map[string]string{})
	checks.Register(c)
}
