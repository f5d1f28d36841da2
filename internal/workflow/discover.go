package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Files lists the workflow files under root's workflow directory in sorted
// order. A missing directory is not an error, just no workflows.
func Files(root string) ([]string, error) {
	dir := filepath.Join(root, filepath.FromSlash(Dir))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading workflow directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Discover parses every workflow under root. Parse failures do not stop
// discovery; the valid workflows come back along with the joined errors.
func Discover(root string) ([]*Workflow, error) {
	files, err := Files(root)
	if err != nil {
		return nil, err
	}
	var (
		workflows []*Workflow
		errs      []error
	)
	for _, f := range files {
		wf, err := ParseFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		workflows = append(workflows, wf)
	}
	return workflows, errors.Join(errs...)
}

// Find locates a workflow by display name, file base name, or base name
// without extension. Returns nil when nothing matches.
func Find(workflows []*Workflow, ref string) *Workflow {
	for _, wf := range workflows {
		base := filepath.Base(wf.Path)
		stem := base[:len(base)-len(filepath.Ext(base))]
		if wf.Name == ref || base == ref || stem == ref {
			return wf
		}
	}
	return nil
}
