package cli

import (
	"context"
	"fmt"
	"os"

	"gantry/internal/config"
	"gantry/internal/engine"
	"gantry/internal/flags"

	"github.com/spf13/cobra"
)

var cfg = config.New()

const runHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	Gantry reads a few environment variables itself:

	GANTRY_COV_TOKEN        Bearer token for --coverage-upload requests.
	GANTRY_WEBHOOK_SECRET   Webhook HMAC secret for gantry serve.
	GITHUB_TOKEN            GitHub API token for gantry draft.

	Every step's process additionally receives the simulated event context:

	GITHUB_EVENT_NAME, GITHUB_REF, GITHUB_SHA, GITHUB_REPOSITORY,
	GITHUB_WORKSPACE        derived from --event/--branch/--sha/--repository
	MATRIX_<KEY>            the unit's matrix values
	GANTRY_RUN_ID           the run identifier
	GANTRY_JOB              the unit's display name
	GANTRY_COVERAGE         per-unit coverage profile path (with --coverage)

	A gantry.toml at the repository root supplies project defaults for most
	flags; explicit command-line flags always win.

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasHelpSubCommands}}Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and execute the workflows an event triggers",
	Long: `Plan and execute the workflows a simulated event triggers.

Gantry discovers workflow files under <root>/.gantry/workflows, keeps the ones
whose triggers match the event described by --event/--branch/--changed,
expands each job's matrix into units, and runs the units as local processes.
Jobs whose runs-on label names another operating system are skipped by
default (--platform-mismatch).

Output:
	Console output is controlled by --console-format (default: text).
	The text console prints one line per step result; live step output needs
	--verbose-steps. Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON array or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown run report
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (run.started, job.started, step.log, step.result, job.finished,
	coverage.finished, run.finished).

Exit codes:
	0 = clean run (or nothing matched the event)
	1 = at least one unit failed
	2 = partial failure (infrastructure errors or coverage problems)
	3 = fatal error (the run could not start)

Examples:
  # Simulate a push to main
  gantry run --branch main --sha $(git rev-parse HEAD)

  # Simulate a pull request touching two files
  gantry run --event pull_request --branch main --changed src/core.py,docs/index.rst

  # Run one workflow regardless of its triggers
  gantry run --workflow tests --branch main

	# Collect and aggregate coverage across the matrix
	gantry run --branch main --coverage

	# AI Agent: stream machine-readable events to stdout
	gantry run --branch main --no-console --emit ndjson
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

		ctx := context.Background()
		eng := engine.NewEngine()
		os.Exit(eng.Run(ctx, cfg))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.SetHelpTemplate(runHelpTemplate)

	// Run
	runCmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, cfg.Run.Root, "Repository root containing .gantry/workflows")
	runCmd.Flags().StringVar(&cfg.Run.Workflow, flags.FlagWorkflow, "", "Run a single workflow by name or file name, bypassing trigger matching")
	runCmd.Flags().StringVar(&cfg.Run.Job, flags.FlagJob, "", "Restrict the run to one job ID across the selected workflows")
	runCmd.Flags().StringVar(&cfg.Run.Platform, flags.FlagPlatformMismatch, cfg.Run.Platform, "Policy for jobs whose runs-on does not match this host: skip|run|fail (default: skip)")
	runCmd.Flags().StringVar(&cfg.Run.ArtifactsDir, flags.FlagArtifacts, cfg.Run.ArtifactsDir, "Directory for per-run artifacts such as coverage profiles (relative paths are under --root)")
	runCmd.Flags().BoolVar(&cfg.Run.DryRun, flags.FlagDryRun, false, "Print the expanded plan without executing")

	// Event
	runCmd.Flags().StringVar(&cfg.Event.Kind, flags.FlagEvent, cfg.Event.Kind, "Simulated event: push|pull_request|workflow_dispatch (default: push)")
	runCmd.Flags().StringVar(&cfg.Event.Branch, flags.FlagBranch, "", "Event branch name (for pull_request: the target branch)")
	runCmd.Flags().StringVar(&cfg.Event.SHA, flags.FlagSHA, "", "Event commit SHA")
	runCmd.Flags().StringVar(&cfg.Event.Repository, flags.FlagRepository, "", "OWNER/REPO slug injected as GITHUB_REPOSITORY (name or URL)")
	runCmd.Flags().StringSliceVar(&cfg.Event.Changed, flags.FlagChanged, nil, "Changed paths for trigger path filters (repeatable; comma-separated accepted; omitted = path filters pass)")

	// Coverage
	runCmd.Flags().BoolVar(&cfg.Coverage.Enabled, flags.FlagCoverage, false, "Collect per-unit coverage profiles and aggregate them after the run")
	runCmd.Flags().StringSliceVar(&cfg.Coverage.Ignore, flags.FlagCoverageIgnore, nil, "Drop files matching these glob patterns from coverage aggregation (repeatable; comma-separated accepted)")
	runCmd.Flags().StringVar(&cfg.Coverage.UploadURL, flags.FlagCoverageUpload, "", "POST the aggregated coverage summary to this URL (token via GANTRY_COV_TOKEN)")

	// Output
	runCmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|json|ndjson (default: text)")
	runCmd.Flags().StringSliceVar(&cfg.Output.ConsoleFilterStatus, flags.FlagConsoleFilterStatus, nil, "Filter console output by status (success, failure, skipped, error). Comma-separated.")
	runCmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	runCmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	runCmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	runCmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	runCmd.Flags().BoolVar(&cfg.Output.VerboseSteps, flags.FlagVerboseSteps, false, "Print live step output on the text console")
	runCmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")

	// Runtime
	runCmd.Flags().IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, cfg.Runtime.Concurrency, "Concurrent job units (default: 4)")
	runCmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Global deadline for the whole run (default: 1h)")
}
