package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gantry/internal/flags"
	"gantry/internal/release"
	"gantry/internal/watch"
	"gantry/internal/workflow"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch workflow files and the version file for changes",
	Long: `Watch the repository and react to edits.

Changes under .gantry/workflows revalidate the workflow files and report
parse errors as they are introduced. Changes to the version file re-run the
release decision: a dry-run report by default, or a real draft with --auto
(needs --package, --repo, and a GitHub token). Bursts of file events are
coalesced per file with --debounce.

Press Ctrl-C to stop.

Exit codes:
	0 = stopped by SIGINT/SIGTERM
	3 = fatal error (bad config or the watcher could not start)

Examples:
  # Revalidate workflows on every edit
  gantry watch

  # Also re-check the release decision when the version file changes
  gantry watch --package mypkg --version-file src/release.py

  # Create the draft as soon as the version moves ahead
  export GITHUB_TOKEN="<your_token>"
  gantry watch --package mypkg --repo acme/mypkg --auto
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

		logger := newDaemonLogger(cfg.Runtime.Verbose)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Surface broken workflows immediately instead of waiting for the
		// first edit.
		revalidateWorkflows(logger)

		h := watch.Handler{
			OnWorkflows: func(paths []string) {
				logger.Info("workflow files changed", "files", len(paths))
				revalidateWorkflows(logger)
			},
			OnVersion: func(path string) {
				handleVersionChange(ctx, logger, path)
			},
		}

		w, err := watch.New(cfg.Run.Root, cfg.Release.VersionFile, cfg.Watch.Debounce, h, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
		if err := w.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
	},
}

func revalidateWorkflows(log *slog.Logger) {
	workflows, err := workflow.Discover(cfg.Run.Root)
	if err != nil {
		log.Error("workflow validation failed", "error", err)
		return
	}
	log.Info("workflows valid", "count", len(workflows))
}

// handleVersionChange re-runs the release decision. Without a package name
// there is nothing to compare against, so it only reports the new version.
func handleVersionChange(ctx context.Context, log *slog.Logger, path string) {
	if cfg.Release.Package == "" {
		version, err := release.ReadVersionFile(path)
		if err != nil {
			log.Error("version file unreadable", "path", path, "error", err)
			return
		}
		log.Info("version file changed", "version", version, "path", path)
		return
	}

	out, err := draftOnce(ctx, cfg, !cfg.Release.Auto)
	if err != nil {
		log.Error("release decision failed", "error", err)
		return
	}
	log.Info("release decision",
		"package", out.Package,
		"branch_version", out.Branch,
		"published", out.Published,
		"action", string(out.Action),
		"url", out.URL)
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, cfg.Run.Root, "Repository root to watch")
	watchCmd.Flags().DurationVar(&cfg.Watch.Debounce, flags.FlagDebounce, cfg.Watch.Debounce, "Coalesce window for bursts of file events (default: 500ms)")
	watchCmd.Flags().StringVar(&cfg.Release.VersionFile, flags.FlagVersionFile, cfg.Release.VersionFile, "Version file path, relative to --root (default: VERSION)")
	watchCmd.Flags().StringVar(&cfg.Release.Package, flags.FlagPackage, "", "Distribution name for release decisions (empty = only report version changes)")
	watchCmd.Flags().StringVar(&cfg.Release.IndexURL, flags.FlagIndexURL, cfg.Release.IndexURL, "Package index base URL (default: https://pypi.org)")
	watchCmd.Flags().StringVar(&cfg.Release.Repo, flags.FlagRepo, "", "GitHub repository to draft in, as OWNER/REPO (needed with --auto)")
	watchCmd.Flags().BoolVar(&cfg.Release.Auto, flags.FlagAuto, false, "Create real drafts instead of printing dry-run decisions")
}
