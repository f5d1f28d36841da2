package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Run CI workflows from a repository's .gantry/workflows directory",
	Long: `Gantry runs the CI workflows checked into a repository as local processes.

It reads YAML workflow files from .gantry/workflows, simulates a trigger event
(push, pull_request, or workflow_dispatch), expands job matrices, and executes
the resulting job units concurrently with GitHub-Actions-like semantics:
needs ordering, fail-fast matrices, continue-on-error, and runs-on host
matching.

Examples:
	# Show available commands and global flags
	gantry --help

	# Run whatever a push to the current branch would trigger
	gantry run --branch main

	# Preview the plan without executing anything
	gantry run --branch main --dry-run

	# Run repository health checks
	gantry check

	# Print build info
	gantry version

Output:
	By default, commands write human-readable output to stdout.
	Some commands support structured output via emitter flags (see each command's --help).`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, "verbose", false, "Enable verbose diagnostics (prints every GitHub API call and full error details)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
