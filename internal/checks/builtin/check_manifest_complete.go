package builtin

import (
	"context"
	"fmt"
	"strings"

	"gantry/internal/checks"
	"gantry/internal/manifest"
)

type ManifestCompleteCheck struct {
	manifestPath string
}

func (c *ManifestCompleteCheck) ID() string {
	return "manifest-complete"
}

func (c *ManifestCompleteCheck) Title() string {
	return "Manifest Covers All Files"
}

func (c *ManifestCompleteCheck) Description() string {
	return "Verifies that every file in the repository is either included or deliberately excluded by the " +
		"packaging manifest. Files the manifest never mentions are the ones that go missing from source " +
		"distributions. Repositories without a manifest are skipped."
}

func (c *ManifestCompleteCheck) Options() []checks.Option {
	return []checks.Option{
		{
			Name:        "manifest",
			Description: "Repository-relative path of the manifest file.",
			Default:     "MANIFEST.in",
		},
	}
}

func (c *ManifestCompleteCheck) Configure(opts map[string]string) error {
	c.manifestPath = "MANIFEST.in"
	if v := strings.TrimSpace(opts["manifest"]); v != "" {
		c.manifestPath = v
	}
	return nil
}

func (c *ManifestCompleteCheck) Evaluate(ctx context.Context, repo *checks.Context) (checks.Result, error) {
	if !repo.FileExists(c.manifestPath) {
		return checks.SkippedResult(repo, c.ID(), fmt.Sprintf("No %s in repository", c.manifestPath)), nil
	}

	data, err := repo.ReadFile(c.manifestPath)
	if err != nil {
		return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("Reading %s: %v", c.manifestPath, err)), nil
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return checks.FailResult(repo, c.ID(), fmt.Sprintf("Manifest does not parse: %v", err)), nil
	}

	files, err := repo.Files()
	if err != nil {
		return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("Listing repository files: %v", err)), nil
	}

	missing := m.Missing(files)
	if len(missing) == 0 {
		return checks.PassResultWithMessage(repo, c.ID(), fmt.Sprintf("All %d files covered", len(files))), nil
	}

	shown := missing
	const maxShown = 10
	suffix := ""
	if len(shown) > maxShown {
		suffix = fmt.Sprintf(" (and %d more)", len(shown)-maxShown)
		shown = shown[:maxShown]
	}
	return checks.FailResultWithMetadata(repo, c.ID(),
		fmt.Sprintf("%d file(s) not covered by %s: %s%s", len(missing), c.manifestPath, strings.Join(shown, ", "), suffix),
		map[string]any{"missing": missing},
	), nil
}

func init() {
	c := &ManifestCompleteCheck{}
	_ = c.Configure(map[string]string{})
	checks.Register(c)
}
