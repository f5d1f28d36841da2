package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"gantry/internal/checks"
)

type FormatCleanCheck struct {
	command string
	mode    string
}

func (c *FormatCleanCheck) ID() string {
	return "format-clean"
}

func (c *FormatCleanCheck) Title() string {
	return "Code Formatting Clean"
}

func (c *FormatCleanCheck) Description() string {
	return "Runs a formatter in listing mode at the repository root and fails when it flags files.\n\n" +
		"Two conventions exist for such tools: gofmt-style tools print offending files and exit zero " +
		"(mode=output), while checkers like black --check signal through a non-zero exit (mode=exit). " +
		"Pick the mode matching your formatter."
}

func (c *FormatCleanCheck) Options() []checks.Option {
	return []checks.Option{
		{
			Name:        "command",
			Description: "Formatter command, split on whitespace (no shell quoting).",
			Default:     "gofmt -l .",
		},
		{
			Name:        "mode",
			Description: "How the formatter reports problems: output or exit.",
			Default:     "output",
		},
	}
}

func (c *FormatCleanCheck) Configure(opts map[string]string) error {
	c.command = "gofmt -l ."
	c.mode = "output"

	if v := strings.TrimSpace(opts["command"]); v != "" {
		c.command = v
	}
	if v := strings.TrimSpace(opts["mode"]); v != "" {
		switch v {
		case "output", "exit":
			c.mode = v
		default:
			return fmt.Errorf("invalid value for mode: %s (want output or exit)", v)
		}
	}
	return nil
}

func (c *FormatCleanCheck) Evaluate(ctx context.Context, repo *checks.Context) (checks.Result, error) {
	argv := strings.Fields(c.command)
	if len(argv) == 0 {
		return checks.ErrorResult(repo, c.ID(), "Formatter command is empty"), nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = repo.Root()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	switch c.mode {
	case "exit":
		if runErr == nil {
			return checks.PassResultWithMessage(repo, c.ID(), fmt.Sprintf("%s exited clean", argv[0])), nil
		}
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("Running %s: %v", argv[0], runErr)), nil
		}
		detail := strings.TrimSpace(stdout.String() + "\n" + stderr.String())
		return checks.FailResult(repo, c.ID(), fmt.Sprintf("%s reported problems: %s", argv[0], firstLines(detail, 5))), nil

	default: // output
		if runErr != nil {
			if _, isExit := runErr.(*exec.ExitError); !isExit {
				return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("Running %s: %v", argv[0], runErr)), nil
			}
			return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("%s exited non-zero: %s", argv[0], firstLines(stderr.String(), 3))), nil
		}
		flagged := splitLines(stdout.String())
		if len(flagged) == 0 {
			return checks.PassResult(repo, c.ID()), nil
		}
		return checks.FailResultWithMetadata(repo, c.ID(),
			fmt.Sprintf("%d file(s) need formatting: %s", len(flagged), strings.Join(flagged, ", ")),
			map[string]any{"files": flagged},
		), nil
	}
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstLines(s string, n int) string {
	lines := splitLines(s)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "; ")
}

func init() {
	c := &FormatCleanCheck{}
	_ = c.Configure(map[string]string{})
	checks.Register(c)
}
