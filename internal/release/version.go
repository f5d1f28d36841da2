package release

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Version is a parsed package version: dotted release numbers plus an
// optional pre-release phase (dev, a, b, rc).
type Version struct {
	Raw     string
	Release []int
	Phase   string
	PhaseN  int
}

func (v Version) String() string { return v.Raw }

// Prerelease reports whether the version carries a dev/alpha/beta/rc phase.
func (v Version) Prerelease() bool { return v.Phase != "" }

var versionRe = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)(?:\.?(dev|a|b|rc)(\d+)?)?$`)

// ParseVersion parses strings like "0.9.3", "0.10.0rc1", "0.11.dev0",
// or "v1.2.0". Anything else is an error.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	m := versionRe.FindStringSubmatch(raw)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	var release []int
	for _, part := range strings.Split(m[1], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		release = append(release, n)
	}

	v := Version{Raw: raw, Release: release, Phase: m[2]}
	if m[3] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		v.PhaseN = n
	}
	return v, nil
}

// phaseRank orders pre-release phases below final releases.
func phaseRank(phase string) int {
	switch phase {
	case "dev":
		return 0
	case "a":
		return 1
	case "b":
		return 2
	case "rc":
		return 3
	default:
		return 4
	}
}

// Compare returns -1, 0, or 1 ordering a against b. Missing release
// segments count as zero, so 1.2 equals 1.2.0.
func Compare(a, b Version) int {
	n := len(a.Release)
	if len(b.Release) > n {
		n = len(b.Release)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a.Release) {
			av = a.Release[i]
		}
		if i < len(b.Release) {
			bv = b.Release[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}

	ar, br := phaseRank(a.Phase), phaseRank(b.Phase)
	if ar != br {
		if ar < br {
			return -1
		}
		return 1
	}
	if a.PhaseN != b.PhaseN {
		if a.PhaseN < b.PhaseN {
			return -1
		}
		return 1
	}
	return 0
}

var assignmentRe = regexp.MustCompile(`(?m)^\s*(?:__version__|version)\s*[:=]\s*["']?([^"'\s,]+)["']?\s*,?\s*$`)

// ParseVersionFile extracts the version string from file content. It
// understands three shapes: a JSON document with a "version" key, an
// assignment line (version = "0.9.3", __version__ = '0.9.3',
// version: 0.9.3), and a bare version on a line of its own.
func ParseVersionFile(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", fmt.Errorf("version file is empty")
	}

	if strings.HasPrefix(trimmed, "{") {
		var doc struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return "", fmt.Errorf("parsing version file as JSON: %w", err)
		}
		if doc.Version == "" {
			return "", fmt.Errorf("version file has no \"version\" key")
		}
		if _, err := ParseVersion(doc.Version); err != nil {
			return "", err
		}
		return doc.Version, nil
	}

	if m := assignmentRe.FindStringSubmatch(trimmed); m != nil {
		if _, err := ParseVersion(m[1]); err != nil {
			return "", err
		}
		return m[1], nil
	}

	if v, err := ParseVersion(trimmed); err == nil {
		return v.Raw, nil
	}
	return "", fmt.Errorf("no version found in file")
}

// ReadVersionFile loads and parses the version file at path.
func ReadVersionFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading version file: %w", err)
	}
	v, err := ParseVersionFile(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
