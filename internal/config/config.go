package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields that affect run
	// behavior, keep these in sync:
	// - CLI flags in internal/cli
	// - the gantry.toml schema in internal/config/file.go
	Run      Run
	Event    Event
	Coverage Coverage
	Checks   Checks
	Release  Release
	Server   Server
	Watch    Watch
	Output   Output
	Runtime  Runtime
	GitHub   GitHub
}

type Run struct {
	// Root is the repository root containing .gantry/workflows (see --root).
	Root string

	// Workflow runs a single workflow by name or file name, bypassing
	// trigger matching (see --workflow).
	Workflow string

	// Job restricts the run to one job ID across the selected workflows
	// (see --job).
	Job string

	// Platform controls jobs whose runs-on label does not match the host
	// (see --platform-mismatch). Allowed values: skip, run, fail.
	Platform string

	// ArtifactsDir is where per-run artifacts such as coverage profiles are
	// written (see --artifacts). Relative paths are under Root.
	ArtifactsDir string

	// DryRun prints the expanded plan without executing (see --dry-run).
	DryRun bool
}

type Event struct {
	// Kind is the simulated event for gantry run (see --event).
	// Allowed values: push, pull_request, workflow_dispatch.
	Kind string

	// Branch is the event's branch name (see --branch).
	Branch string

	// SHA is the event's commit (see --sha).
	SHA string

	// Repository is the owner/name slug injected as GITHUB_REPOSITORY
	// (see --repository).
	Repository string

	// Changed lists the event's changed paths for trigger filters
	// (see --changed). Repeated flags and comma-separated lists accepted.
	Changed []string
}

type Coverage struct {
	// Enabled turns on per-unit coverage collection and aggregation
	// (see --coverage).
	Enabled bool

	// Ignore drops files matching these glob patterns from aggregation
	// (see --coverage-ignore).
	Ignore []string

	// UploadURL posts the aggregated summary to this endpoint when set
	// (see --coverage-upload).
	UploadURL string

	// Token authenticates the upload. Falls back to GANTRY_COV_TOKEN.
	Token string
}

type Checks struct {
	// Selector selects which checks to run.
	// Empty means all checks; otherwise a comma-separated ID list (see --checks).
	Selector string

	// Set provides per-check option overrides from the CLI.
	// Entries are of the form checkID.option=value (repeatable; see --set).
	Set []string
}

type Release struct {
	// VersionFile is the path of the version source, relative to the repo
	// root (see --version-file).
	VersionFile string

	// Package is the distribution name looked up on the package index
	// (see --package).
	Package string

	// IndexURL is the package index base URL (see --index-url).
	IndexURL string

	// Repo is the owner/name GitHub repository drafts are created in
	// (see --repo). Accepts a slug or a github.com URL.
	Repo string

	// DryRun prints the release decision without creating a draft
	// (see --dry-run).
	DryRun bool

	// Auto lets gantry watch create real drafts when the version file
	// changes instead of printing dry-run decisions (see gantry watch
	// --auto).
	Auto bool
}

type Server struct {
	// Addr is the listen address for gantry serve (see --addr).
	Addr string

	// Secret verifies webhook signatures. Falls back to
	// GANTRY_WEBHOOK_SECRET.
	Secret string

	// EnvFile is a dotenv file loaded before serving (see --env-file).
	EnvFile string
}

type Watch struct {
	// Debounce coalesces bursts of file events before reacting
	// (see --debounce).
	Debounce time.Duration
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string

	// ConsoleFilterStatus filters console output by result status (see --console-filter-status).
	// Allowed values: success, failure, skipped, error.
	ConsoleFilterStatus []string

	// Report writes a Markdown run report to this path (see --report).
	Report string

	// Out writes structured output to this path (see --out).
	Out string

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string

	// VerboseSteps prints live step output on the text console
	// (see --verbose-steps). Structured formats always carry step logs.
	VerboseSteps bool

	// NoConsole suppresses the console sink (see --no-console).
	// Use with --emit/--out/--report for machine-readable output.
	NoConsole bool
}

type Runtime struct {
	// Concurrency controls how many job units run in parallel (see --concurrency).
	// Must be >= 1.
	Concurrency int

	// Timeout is the global deadline for the whole run (see --timeout).
	// Must be > 0.
	Timeout time.Duration

	// Verbose enables more detailed diagnostics.
	Verbose bool
}

type GitHub struct {
	// Token authenticates GitHub API calls. Empty means resolve from
	// GITHUB_TOKEN or the gh CLI.
	Token string

	// BaseURL overrides the GitHub API endpoint, for GitHub Enterprise or
	// tests.
	BaseURL string
}

func New() *Config {
	return &Config{
		Run: Run{
			Root:         ".",
			Platform:     "skip",
			ArtifactsDir: filepath.Join(".gantry", "artifacts"),
		},
		Event: Event{
			Kind: "push",
		},
		Release: Release{
			VersionFile: "VERSION",
			IndexURL:    "https://pypi.org",
		},
		Server: Server{
			Addr: ":8385",
		},
		Watch: Watch{
			Debounce: 500 * time.Millisecond,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Concurrency: 4,
			Timeout:     60 * time.Minute,
		},
	}
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Event.Changed = splitCommaList(c.Event.Changed)
	c.Coverage.Ignore = splitCommaList(c.Coverage.Ignore)
	c.Checks.Set = splitCommaList(c.Checks.Set)
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)

	// Run validation
	if c.Run.Root == "" {
		c.Run.Root = "."
	}
	c.Run.Platform = normalizeEnumValue(c.Run.Platform)
	if c.Run.Platform == "" {
		c.Run.Platform = "skip"
	}
	if c.Run.Platform != "skip" && c.Run.Platform != "run" && c.Run.Platform != "fail" {
		return fmt.Errorf("unsupported --platform-mismatch: %s (must be one of: skip, run, fail)", c.Run.Platform)
	}

	// Event validation
	c.Event.Kind = normalizeEnumValue(c.Event.Kind)
	if c.Event.Kind == "" {
		c.Event.Kind = "push"
	}
	if c.Event.Kind != "push" && c.Event.Kind != "pull_request" && c.Event.Kind != "workflow_dispatch" {
		return fmt.Errorf("unsupported --event: %s (must be one of: push, pull_request, workflow_dispatch)", c.Event.Kind)
	}
	if c.Event.Repository != "" {
		repo, err := normalizeRepoSelector(c.Event.Repository)
		if err != nil {
			return fmt.Errorf("invalid --repository value: %w", err)
		}
		c.Event.Repository = repo
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for i, st := range c.Output.ConsoleFilterStatus {
		v := normalizeEnumValue(st)
		switch v {
		case "success", "failure", "skipped", "error":
			c.Output.ConsoleFilterStatus[i] = v
		default:
			return fmt.Errorf("unsupported --console-filter-status: %s (must be one of: success, failure, skipped, error)", st)
		}
	}

	for _, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v == "" {
			return errors.New("--emit must be one of: json, ndjson")
		}
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else {
			if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
				return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
			}
		}
	}

	// Runtime validation
	if c.Runtime.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	// Release validation
	if c.Release.Repo != "" {
		repo, err := normalizeRepoSelector(c.Release.Repo)
		if err != nil {
			return fmt.Errorf("invalid --repo value: %w", err)
		}
		c.Release.Repo = repo
	}
	if c.Release.IndexURL != "" {
		u, err := url.Parse(c.Release.IndexURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid --index-url: %q", c.Release.IndexURL)
		}
	}

	// Watch validation
	if c.Watch.Debounce <= 0 {
		return errors.New("--debounce must be > 0")
	}

	// Check option syntax validation (check.option=value)
	if len(c.Checks.Set) > 0 {
		if _, err := ParseCheckOptionAssignments(c.Checks.Set); err != nil {
			return err
		}
	}

	return nil
}

// ArtifactsPath resolves the artifacts directory against the run root.
func (c *Config) ArtifactsPath() string {
	if filepath.IsAbs(c.Run.ArtifactsDir) {
		return c.Run.ArtifactsDir
	}
	return filepath.Join(c.Run.Root, c.Run.ArtifactsDir)
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeRepoSelector accepts an OWNER/REPO slug or a GitHub URL like
// https://github.com/OWNER/REPO and returns the canonical slug.
func normalizeRepoSelector(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	if strings.HasPrefix(raw, "github.com/") || strings.HasPrefix(raw, "www.github.com/") {
		raw = "https://" + raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%q", raw)
		}
		host := strings.ToLower(u.Hostname())
		if host == "www.github.com" {
			host = "github.com"
		}
		if host != "github.com" {
			return "", fmt.Errorf("%q", raw)
		}
		parts := strings.FieldsFunc(strings.Trim(u.Path, "/"), func(r rune) bool { return r == '/' })
		if len(parts) < 2 {
			return "", fmt.Errorf("%q", raw)
		}
		return parts[0] + "/" + strings.TrimSuffix(parts[1], ".git"), nil
	}

	parts := strings.Split(raw, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%q (expected OWNER/REPO)", raw)
	}
	return raw, nil
}

// ParseCheckOptionAssignments parses values of the form "checkID.option=value".
//
// Notes:
// - Entries may be provided via repeated flags and/or comma-delimited lists.
// - This validates syntax only (no validation of check IDs or option names).
// - Empty values are allowed ("check.option=").
func ParseCheckOptionAssignments(values []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	for _, raw := range splitCommaList(values) {
		left, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set entry %q: expected check.option=value", raw)
		}
		left = strings.TrimSpace(left)
		value = strings.TrimSpace(value)
		checkID, opt, ok := strings.Cut(left, ".")
		if !ok {
			return nil, fmt.Errorf("invalid --set entry %q: expected check.option=value", raw)
		}
		checkID = strings.TrimSpace(checkID)
		opt = strings.TrimSpace(opt)
		if checkID == "" || opt == "" {
			return nil, fmt.Errorf("invalid --set entry %q: expected non-empty check and option", raw)
		}
		if _, ok := out[checkID]; !ok {
			out[checkID] = make(map[string]string)
		}
		out[checkID][opt] = value
	}
	return out, nil
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
