package cli

import (
	"context"
	"fmt"
	"os"

	"gantry/internal/engine"
	"gantry/internal/flags"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run repository health checks",
	Long: `Run repository health checks against the repository at --root.

Checks are read-only probes over the repository's workflows and files:
whether the workflow files parse, whether the test matrix covers the
configured platforms, whether the packaging manifest ships everything, and
so on. Run "gantry checks list" to see what this build registers.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via --out/--emit; results are Events
	with type "check.result" and a nested "result" object.

Exit codes:
	0 = all checks passed
	1 = at least one check failed
	2 = at least one check errored
	3 = fatal error (checks did not run)

Examples:
  # Run every registered check
  gantry check

  # Run two checks against another repository
  gantry check --root ../myproject --checks workflows-parse,manifest-complete

  # Override a check option
  gantry check --set matrix-covers.values=ubuntu-latest,windows-latest
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
		os.Exit(eng.RunChecks(ctx, cfg))
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, cfg.Run.Root, "Repository root to check")
	checkCmd.Flags().StringVar(&cfg.Checks.Selector, flags.FlagChecks, "", "Comma-separated check IDs (empty = all checks)")
	checkCmd.Flags().StringSliceVar(&cfg.Checks.Set, flags.FlagSet, nil, "Per-check options as checkID.option=value (repeatable; comma-separated accepted)")

	// Output
	checkCmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|json|ndjson (default: text)")
	checkCmd.Flags().StringSliceVar(&cfg.Output.ConsoleFilterStatus, flags.FlagConsoleFilterStatus, nil, "Filter console output by status (success, failure, skipped, error). Comma-separated.")
	checkCmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	checkCmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	checkCmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	checkCmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	checkCmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")
}
