// Package manifest parses distribution manifest files: line-oriented
// include/exclude directives describing which repository files a release
// archive carries. The directive set follows the MANIFEST.in convention.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"gantry/internal/glob"
)

// Manifest is a parsed set of include and exclude patterns. Patterns use
// workflow glob syntax; exclude wins over include for the same file.
type Manifest struct {
	Include []string
	Exclude []string
}

// ParseFile reads and parses a manifest file.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse parses manifest directives:
//
//	include <pattern>...
//	exclude <pattern>...
//	recursive-include <dir> <pattern>...
//	recursive-exclude <dir> <pattern>...
//	global-include <pattern>...
//	global-exclude <pattern>...
//	graft <dir>
//	prune <dir>
//
// Blank lines and # comments are ignored. Unknown directives are errors.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		directive, args := fields[0], fields[1:]
		if len(args) == 0 {
			return nil, fmt.Errorf("line %d: %s needs arguments", lineNo, directive)
		}
		switch directive {
		case "include":
			m.Include = append(m.Include, args...)
		case "exclude":
			m.Exclude = append(m.Exclude, args...)
		case "recursive-include", "recursive-exclude":
			if len(args) < 2 {
				return nil, fmt.Errorf("line %d: %s needs a directory and at least one pattern", lineNo, directive)
			}
			dir := strings.TrimSuffix(args[0], "/")
			for _, pat := range args[1:] {
				full := dir + "/**/" + pat
				if directive == "recursive-include" {
					m.Include = append(m.Include, full)
				} else {
					m.Exclude = append(m.Exclude, full)
				}
			}
		case "global-include":
			for _, pat := range args {
				m.Include = append(m.Include, "**/"+pat)
			}
		case "global-exclude":
			for _, pat := range args {
				m.Exclude = append(m.Exclude, "**/"+pat)
			}
		case "graft":
			m.Include = append(m.Include, strings.TrimSuffix(args[0], "/")+"/**")
		case "prune":
			m.Exclude = append(m.Exclude, strings.TrimSuffix(args[0], "/")+"/**")
		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", lineNo, directive)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Covered reports whether the manifest accounts for the file: matched by an
// include pattern and not excluded, or explicitly excluded.
func (m *Manifest) Covered(path string) bool {
	if glob.MatchAny(m.Exclude, path) {
		return true
	}
	return glob.MatchAny(m.Include, path)
}

// Included reports whether the file ends up in the archive.
func (m *Manifest) Included(path string) bool {
	return glob.MatchAny(m.Include, path) && !glob.MatchAny(m.Exclude, path)
}

// Missing returns the files the manifest does not account for at all.
func (m *Manifest) Missing(files []string) []string {
	var missing []string
	for _, f := range files {
		if !m.Covered(f) {
			missing = append(missing, f)
		}
	}
	return missing
}
