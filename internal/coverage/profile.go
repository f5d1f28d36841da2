// Package coverage parses, merges and summarizes Go cover profiles. Each
// job unit writes its own profile; after every unit finishes, the profiles
// are merged into one artifact and a coverage percentage.
package coverage

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Block is one coverage block of a profile.
type Block struct {
	File       string
	StartLine  int
	StartCol   int
	EndLine    int
	EndCol     int
	Statements int
	Count      int
}

// Profile is one parsed cover profile.
type Profile struct {
	Mode   string // "set", "count" or "atomic"
	Blocks []Block
}

// ParseFile reads and parses one profile file.
func ParseFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse parses the cover profile format: a "mode:" header followed by one
// block per line as "file:startLine.startCol,endLine.endCol statements count".
func Parse(data []byte) (*Profile, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	p := &Profile{}
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if p.Mode == "" {
			mode, ok := strings.CutPrefix(line, "mode: ")
			if !ok {
				return nil, fmt.Errorf("line %d: profile must start with a mode line", lineNo)
			}
			switch mode {
			case "set", "count", "atomic":
				p.Mode = mode
			default:
				return nil, fmt.Errorf("line %d: unknown mode %q", lineNo, mode)
			}
			continue
		}
		b, err := parseBlock(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		p.Blocks = append(p.Blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if p.Mode == "" {
		return nil, fmt.Errorf("empty profile")
	}
	return p, nil
}

func parseBlock(line string) (Block, error) {
	var b Block

	// The file name may contain colons on some platforms, so split the
	// positions off the *last* colon.
	idx := strings.LastIndexByte(line, ':')
	if idx < 0 {
		return b, fmt.Errorf("malformed block %q", line)
	}
	b.File = line[:idx]
	rest := line[idx+1:]

	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return b, fmt.Errorf("malformed block %q", line)
	}

	startEnd := strings.Split(fields[0], ",")
	if len(startEnd) != 2 {
		return b, fmt.Errorf("malformed block positions %q", fields[0])
	}
	var err error
	if b.StartLine, b.StartCol, err = parsePos(startEnd[0]); err != nil {
		return b, err
	}
	if b.EndLine, b.EndCol, err = parsePos(startEnd[1]); err != nil {
		return b, err
	}
	if b.Statements, err = strconv.Atoi(fields[1]); err != nil {
		return b, fmt.Errorf("malformed statement count %q", fields[1])
	}
	if b.Count, err = strconv.Atoi(fields[2]); err != nil {
		return b, fmt.Errorf("malformed hit count %q", fields[2])
	}
	return b, nil
}

func parsePos(s string) (line, col int, err error) {
	l, c, ok := strings.Cut(s, ".")
	if !ok {
		return 0, 0, fmt.Errorf("malformed position %q", s)
	}
	if line, err = strconv.Atoi(l); err != nil {
		return 0, 0, fmt.Errorf("malformed position %q", s)
	}
	if col, err = strconv.Atoi(c); err != nil {
		return 0, 0, fmt.Errorf("malformed position %q", s)
	}
	return line, col, nil
}

// Write renders the profile back into the cover format with blocks in a
// stable order.
func (p *Profile) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "mode: %s\n", p.Mode); err != nil {
		return err
	}
	blocks := make([]Block, len(p.Blocks))
	copy(blocks, p.Blocks)
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.StartCol < b.StartCol
	})
	for _, b := range blocks {
		_, err := fmt.Fprintf(w, "%s:%d.%d,%d.%d %d %d\n",
			b.File, b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.Statements, b.Count)
		if err != nil {
			return err
		}
	}
	return nil
}
