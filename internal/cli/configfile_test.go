package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gantry/internal/config"
	"gantry/internal/flags"

	"github.com/spf13/cobra"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", config.FileName, err)
	}
}

func TestApplyConfigFile_FileSuppliesDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, root, `
concurrency = 9

[coverage]
enabled = true
ignore = ["*_test.py"]

[release]
package = "mypkg"

[watch]
debounce = "250ms"
`)

	c := config.New()
	c.Run.Root = root

	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().Int(flags.FlagConcurrency, c.Runtime.Concurrency, "")

	if err := applyConfigFile(cmd, c); err != nil {
		t.Fatalf("applyConfigFile failed: %v", err)
	}

	if c.Runtime.Concurrency != 9 {
		t.Fatalf("expected file concurrency 9; got %d", c.Runtime.Concurrency)
	}
	if !c.Coverage.Enabled {
		t.Fatal("expected file to enable coverage")
	}
	if len(c.Coverage.Ignore) != 1 || c.Coverage.Ignore[0] != "*_test.py" {
		t.Fatalf("expected coverage ignore from file; got %v", c.Coverage.Ignore)
	}
	if c.Release.Package != "mypkg" {
		t.Fatalf("expected release package from file; got %q", c.Release.Package)
	}
	if c.Watch.Debounce != 250*time.Millisecond {
		t.Fatalf("expected debounce 250ms from file; got %v", c.Watch.Debounce)
	}
}

func TestApplyConfigFile_FlagsWinOverFile(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, root, "concurrency = 9\n")

	c := config.New()
	c.Run.Root = root

	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().IntVar(&c.Runtime.Concurrency, flags.FlagConcurrency, c.Runtime.Concurrency, "")
	if err := cmd.Flags().Set(flags.FlagConcurrency, "2"); err != nil {
		t.Fatalf("failed to set concurrency flag: %v", err)
	}

	if err := applyConfigFile(cmd, c); err != nil {
		t.Fatalf("applyConfigFile failed: %v", err)
	}

	if c.Runtime.Concurrency != 2 {
		t.Fatalf("expected explicit --concurrency to win over the file; got %d", c.Runtime.Concurrency)
	}
}

func TestApplyConfigFile_MissingFileIsFine(t *testing.T) {
	c := config.New()
	c.Run.Root = t.TempDir()

	cmd := &cobra.Command{Use: "run"}
	if err := applyConfigFile(cmd, c); err != nil {
		t.Fatalf("expected missing gantry.toml to be a no-op; got %v", err)
	}
	if c.Runtime.Concurrency != 4 {
		t.Fatalf("expected defaults untouched; got concurrency %d", c.Runtime.Concurrency)
	}
}
