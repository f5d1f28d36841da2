// Package glob matches slash-separated paths against workflow-style glob
// patterns: path.Match syntax (*, ?, character classes) extended with "**",
// which spans path separators.
package glob

import (
	"path"
	"strings"
)

// Match reports whether name matches pattern.
//
// Pattern syntax is Go's path.Match plus "**":
//   - '*' matches any run of non-separator characters
//   - '?' matches one non-separator character
//   - '[...]' matches character classes
//   - "**" matches any run of characters, including '/'
//
// "a/**/b" also matches "a/b" and "**/b" also matches "b" (zero directories).
// Malformed patterns match nothing.
func Match(pattern, name string) bool {
	for _, p := range zeroDirVariants(pattern) {
		if matchOne(p, name) {
			return true
		}
	}
	return false
}

// MatchAny reports whether name matches at least one of the patterns.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}

// zeroDirVariants expands a pattern into the set of patterns needed so that
// "**" segments can also match zero directories: each "/**/" may collapse to
// "/", and a leading "**/" may disappear entirely.
func zeroDirVariants(pattern string) []string {
	seen := map[string]struct{}{pattern: {}}
	queue := []string{pattern}
	for i := 0; i < len(queue); i++ {
		p := queue[i]
		for _, v := range []string{
			strings.Replace(p, "/**/", "/", 1),
			strings.TrimPrefix(p, "**/"),
		} {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				queue = append(queue, v)
			}
		}
	}
	return queue
}

func matchOne(pattern, name string) bool {
	parts := strings.Split(pattern, "**")
	if len(parts) == 1 {
		ok, err := path.Match(pattern, name)
		return err == nil && ok
	}
	return matchParts(parts, name, true)
}

// matchParts matches name against glob fragments separated by "**". The
// first fragment is anchored at the start unless a "**" already consumed a
// prefix; the "**" between fragments absorbs any run of characters.
func matchParts(parts []string, name string, anchored bool) bool {
	if len(parts) == 1 {
		last := parts[0]
		if last == "" {
			return true // pattern ended with "**"
		}
		if anchored {
			ok, err := path.Match(last, name)
			return err == nil && ok
		}
		for i := 0; i <= len(name); i++ {
			if ok, err := path.Match(last, name[i:]); err == nil && ok {
				return true
			}
		}
		return false
	}

	first, rest := parts[0], parts[1:]
	if anchored {
		for i := 0; i <= len(name); i++ {
			if ok, err := path.Match(first, name[:i]); err == nil && ok {
				if matchParts(rest, name[i:], false) {
					return true
				}
			}
		}
		return false
	}
	for start := 0; start <= len(name); start++ {
		for end := start; end <= len(name); end++ {
			ok, err := path.Match(first, name[start:end])
			if err != nil {
				return false
			}
			if ok && matchParts(rest, name[end:], false) {
				return true
			}
		}
	}
	return false
}
