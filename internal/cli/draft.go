package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gantry/internal/config"
	"gantry/internal/flags"
	gh "gantry/internal/github"
	"gantry/internal/pkgindex"
	"gantry/internal/release"

	"github.com/spf13/cobra"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Draft a GitHub release when the version file moves ahead",
	Long: `Compare the repository's version file against the package index and draft
a GitHub release when the branch version is ahead of the published one.

The version file (--version-file, default VERSION) is parsed for an
assignment like __version__ = "0.9.2", a JSON {"version": ...} document, or
a bare version string. The published version comes from the package index
(--index-url, default PyPI). When the branch is ahead, gantry opens a draft
release tagged v<version> with generated notes; reruns find the existing
draft instead of piling up duplicates.

Authentication:
  Creating drafts needs a GitHub access token. Gantry prefers GITHUB_TOKEN,
  but can also reuse GitHub CLI authentication if the gh CLI is installed
  and logged in. --dry-run needs no token.

Exit codes:
	0 = decision made (drafted, draft-exists, up-to-date, or dry-run)
	3 = error (unreadable version file, index or API failure, or a branch
	    version behind the published one)

Examples:
  # Print the decision without touching GitHub
  gantry draft --package mypkg --dry-run

  # Create the draft
  export GITHUB_TOKEN="<your_token>"
  gantry draft --package mypkg --repo acme/mypkg

  # Non-PyPI index
  gantry draft --package mypkg --repo acme/mypkg --index-url https://pypi.internal.acme.dev
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := applyConfigFile(cmd, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

		out, err := draftOnce(context.Background(), cfg, cfg.Release.DryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
		printOutcome(cmd.OutOrStdout(), out)
	},
}

// draftOnce runs one release decision. It is shared with gantry watch, which
// re-decides whenever the version file changes.
func draftOnce(ctx context.Context, cfg *config.Config, dryRun bool) (release.Outcome, error) {
	if cfg.Release.Package == "" {
		return release.Outcome{}, fmt.Errorf("--package is required (or set release.package in gantry.toml)")
	}

	version, err := release.ReadVersionFile(filepath.Join(cfg.Run.Root, cfg.Release.VersionFile))
	if err != nil {
		return release.Outcome{}, err
	}

	d := &release.Drafter{
		Index:   pkgindex.New(cfg.Release.IndexURL),
		Repo:    cfg.Release.Repo,
		Package: cfg.Release.Package,
		DryRun:  dryRun,
	}

	if !dryRun {
		if cfg.Release.Repo == "" {
			return release.Outcome{}, fmt.Errorf("--repo is required to create drafts (or set release.repo in gantry.toml)")
		}
		token, _, err := gh.ResolveToken(ctx, cfg.GitHub.Token)
		if err != nil {
			return release.Outcome{}, fmt.Errorf("failed to resolve GitHub auth token: %w", err)
		}
		if strings.TrimSpace(token) == "" {
			return release.Outcome{}, fmt.Errorf("GitHub auth token is required (set GITHUB_TOKEN or run 'gh auth login')")
		}
		opts := []gh.Option{gh.WithVerbose(cfg.Runtime.Verbose, nil)}
		if cfg.GitHub.BaseURL != "" {
			opts = append(opts, gh.WithBaseURL(cfg.GitHub.BaseURL))
		}
		client, err := gh.NewClient(ctx, token, opts...)
		if err != nil {
			return release.Outcome{}, fmt.Errorf("failed to create GitHub client: %w", err)
		}
		d.GitHub = client
	}

	return d.Run(ctx, version)
}

func printOutcome(w io.Writer, out release.Outcome) {
	fmt.Fprintf(w, "package:   %s\n", out.Package)
	fmt.Fprintf(w, "branch:    %s\n", out.Branch)
	if out.Published != "" {
		fmt.Fprintf(w, "published: %s\n", out.Published)
	}
	fmt.Fprintf(w, "tag:       %s\n", out.Tag)
	fmt.Fprintf(w, "action:    %s\n", out.Action)
	if out.URL != "" {
		fmt.Fprintf(w, "url:       %s\n", out.URL)
	}
}

func init() {
	rootCmd.AddCommand(draftCmd)

	draftCmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, cfg.Run.Root, "Repository root containing the version file")
	draftCmd.Flags().StringVar(&cfg.Release.VersionFile, flags.FlagVersionFile, cfg.Release.VersionFile, "Version file path, relative to --root (default: VERSION)")
	draftCmd.Flags().StringVar(&cfg.Release.Package, flags.FlagPackage, "", "Distribution name looked up on the package index")
	draftCmd.Flags().StringVar(&cfg.Release.IndexURL, flags.FlagIndexURL, cfg.Release.IndexURL, "Package index base URL (default: https://pypi.org)")
	draftCmd.Flags().StringVar(&cfg.Release.Repo, flags.FlagRepo, "", "GitHub repository to draft in, as OWNER/REPO (name or URL)")
	draftCmd.Flags().BoolVar(&cfg.Release.DryRun, flags.FlagDryRun, false, "Print the release decision without creating a draft")
}
