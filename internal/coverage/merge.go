package coverage

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"gantry/internal/glob"
)

// Summary is the aggregated outcome across every unit's profile.
type Summary struct {
	Profiles   int     `json:"profiles"`
	Files      int     `json:"files"`
	Mode       string  `json:"mode"`
	Statements int     `json:"statements"`
	Covered    int     `json:"covered"`
	Percent    float64 `json:"percent"`
}

type blockKey struct {
	file       string
	startLine  int
	startCol   int
	endLine    int
	endCol     int
	statements int
}

// Merge combines profiles into one. All profiles must agree on set versus
// counting modes; in set mode hit counts are ORed, otherwise summed.
func Merge(profiles []*Profile) (*Profile, error) {
	if len(profiles) == 0 {
		return nil, errors.New("no profiles to merge")
	}
	mode := profiles[0].Mode
	for _, p := range profiles[1:] {
		if (p.Mode == "set") != (mode == "set") {
			return nil, fmt.Errorf("cannot merge %s profile into %s", p.Mode, mode)
		}
	}

	counts := make(map[blockKey]int)
	for _, p := range profiles {
		for _, b := range p.Blocks {
			k := blockKey{b.File, b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.Statements}
			if mode == "set" {
				if b.Count > 0 {
					counts[k] = 1
				} else if _, ok := counts[k]; !ok {
					counts[k] = 0
				}
			} else {
				counts[k] += b.Count
			}
		}
	}

	merged := &Profile{Mode: mode, Blocks: make([]Block, 0, len(counts))}
	for k, count := range counts {
		merged.Blocks = append(merged.Blocks, Block{
			File:       k.file,
			StartLine:  k.startLine,
			StartCol:   k.startCol,
			EndLine:    k.endLine,
			EndCol:     k.endCol,
			Statements: k.statements,
			Count:      count,
		})
	}
	sort.Slice(merged.Blocks, func(i, j int) bool {
		a, b := merged.Blocks[i], merged.Blocks[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.StartCol < b.StartCol
	})
	return merged, nil
}

// Filter returns a profile without blocks whose file matches any ignore
// pattern.
func (p *Profile) Filter(ignore []string) *Profile {
	if len(ignore) == 0 {
		return p
	}
	out := &Profile{Mode: p.Mode}
	for _, b := range p.Blocks {
		if glob.MatchAny(ignore, b.File) {
			continue
		}
		out.Blocks = append(out.Blocks, b)
	}
	return out
}

// Percent is the statement coverage of the profile, 0 to 100.
func (p *Profile) Percent() float64 {
	total, covered := p.statementCounts()
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total) * 100
}

func (p *Profile) statementCounts() (total, covered int) {
	for _, b := range p.Blocks {
		total += b.Statements
		if b.Count > 0 {
			covered += b.Statements
		}
	}
	return total, covered
}

// Summarize computes the summary for an already merged profile.
func Summarize(p *Profile, merged int) Summary {
	files := make(map[string]struct{})
	for _, b := range p.Blocks {
		files[b.File] = struct{}{}
	}
	total, covered := p.statementCounts()
	s := Summary{
		Profiles:   merged,
		Files:      len(files),
		Mode:       p.Mode,
		Statements: total,
		Covered:    covered,
	}
	if total > 0 {
		s.Percent = float64(covered) / float64(total) * 100
	}
	return s
}

// Aggregate loads the unit profiles that exist at the given paths, merges
// them, applies the ignore patterns and summarizes. Paths whose file never
// appeared (a unit that failed before writing, or was skipped) are not
// errors; malformed profiles are. A nil profile with a zero summary means
// nothing was collected.
func Aggregate(paths []string, ignore []string) (*Profile, Summary, error) {
	var profiles []*Profile
	for _, path := range paths {
		p, err := ParseFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, Summary{}, err
		}
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil, Summary{}, nil
	}
	merged, err := Merge(profiles)
	if err != nil {
		return nil, Summary{}, err
	}
	merged = merged.Filter(ignore)
	return merged, Summarize(merged, len(profiles)), nil
}
