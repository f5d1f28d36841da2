package cli

import (
	"gantry/internal/config"
	"gantry/internal/flags"

	"github.com/spf13/cobra"
)

// applyConfigFile layers gantry.toml under the command line: a file value
// only lands when the matching flag was not set explicitly. The file is
// looked up under the root the flags resolved, so --root also picks the
// config file.
func applyConfigFile(cmd *cobra.Command, cfg *config.Config) error {
	f, err := config.Load(cfg.Run.Root)
	if err != nil || f == nil {
		return err
	}

	set := func(name string) bool { return cmd.Flags().Changed(name) }

	if f.Root != nil && !set(flags.FlagRoot) {
		cfg.Run.Root = *f.Root
	}
	if f.Concurrency != nil && !set(flags.FlagConcurrency) {
		cfg.Runtime.Concurrency = *f.Concurrency
	}
	if f.Verbose != nil && !set("verbose") {
		cfg.Runtime.Verbose = *f.Verbose
	}

	if f.Output.ConsoleFormat != nil && !set(flags.FlagConsoleFormat) {
		cfg.Output.ConsoleFormat = *f.Output.ConsoleFormat
	}
	if f.Output.Report != nil && !set(flags.FlagReport) {
		cfg.Output.Report = *f.Output.Report
	}
	if f.Output.Out != nil && !set(flags.FlagOut) {
		cfg.Output.Out = *f.Output.Out
	}
	if f.Output.OutFormat != nil && !set(flags.FlagOutFormat) {
		cfg.Output.OutFormat = *f.Output.OutFormat
	}

	if f.Coverage.Enabled != nil && !set(flags.FlagCoverage) {
		cfg.Coverage.Enabled = *f.Coverage.Enabled
	}
	if len(f.Coverage.Ignore) > 0 && !set(flags.FlagCoverageIgnore) {
		cfg.Coverage.Ignore = f.Coverage.Ignore
	}
	if f.Coverage.UploadURL != nil && !set(flags.FlagCoverageUpload) {
		cfg.Coverage.UploadURL = *f.Coverage.UploadURL
	}

	if f.Checks.Selector != nil && !set(flags.FlagChecks) {
		cfg.Checks.Selector = *f.Checks.Selector
	}
	if len(f.Checks.Set) > 0 && !set(flags.FlagSet) {
		cfg.Checks.Set = f.Checks.Set
	}

	if f.Release.VersionFile != nil && !set(flags.FlagVersionFile) {
		cfg.Release.VersionFile = *f.Release.VersionFile
	}
	if f.Release.Package != nil && !set(flags.FlagPackage) {
		cfg.Release.Package = *f.Release.Package
	}
	if f.Release.IndexURL != nil && !set(flags.FlagIndexURL) {
		cfg.Release.IndexURL = *f.Release.IndexURL
	}
	if f.Release.Repo != nil && !set(flags.FlagRepo) {
		cfg.Release.Repo = *f.Release.Repo
	}
	if f.Release.Auto != nil && !set(flags.FlagAuto) {
		cfg.Release.Auto = *f.Release.Auto
	}

	if f.Server.Addr != nil && !set(flags.FlagAddr) {
		cfg.Server.Addr = *f.Server.Addr
	}
	if f.Server.EnvFile != nil && !set(flags.FlagEnvFile) {
		cfg.Server.EnvFile = *f.Server.EnvFile
	}

	if d, ok := f.DebounceDuration(); ok && !set(flags.FlagDebounce) {
		cfg.Watch.Debounce = d
	}

	// No flag counterpart; the file is the only place to point gantry at a
	// GitHub Enterprise API.
	if f.GitHub.BaseURL != nil {
		cfg.GitHub.BaseURL = *f.GitHub.BaseURL
	}

	return nil
}
