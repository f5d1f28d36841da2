package flags

// Package flags defines canonical CLI flag names shared across the CLI and
// config packages. Keeping these as constants helps avoid drift between
// Cobra flag wiring and other code paths that need to reference flags
// (e.g. config-file precedence checks).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, ".", "...")
//	arg := "--" + flags.FlagRoot
const (
	// Run
	FlagRoot             = "root"
	FlagWorkflow         = "workflow"
	FlagJob              = "job"
	FlagPlatformMismatch = "platform-mismatch"
	FlagArtifacts        = "artifacts"
	FlagDryRun           = "dry-run"

	// Event
	FlagEvent      = "event"
	FlagBranch     = "branch"
	FlagSHA        = "sha"
	FlagRepository = "repository"
	FlagChanged    = "changed"

	// Coverage
	FlagCoverage       = "coverage"
	FlagCoverageIgnore = "coverage-ignore"
	FlagCoverageUpload = "coverage-upload"

	// Checks
	FlagChecks = "checks"
	FlagSet    = "set"

	// Release
	FlagVersionFile = "version-file"
	FlagPackage     = "package"
	FlagIndexURL    = "index-url"
	FlagRepo        = "repo"
	FlagAuto        = "auto"

	// Server
	FlagAddr    = "addr"
	FlagEnvFile = "env-file"

	// Watch
	FlagDebounce = "debounce"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagVerboseSteps        = "verbose-steps"
	FlagNoConsole           = "no-console"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
)
