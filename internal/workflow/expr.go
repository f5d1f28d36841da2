package workflow

import (
	"fmt"
	"strings"
)

// ExprContext supplies values for ${{ ... }} references during expansion.
type ExprContext struct {
	Matrix map[string]string
	Env    map[string]string
	GitHub map[string]string
}

// Expand interpolates ${{ matrix.KEY }}, ${{ env.KEY }} and ${{ github.KEY }}
// references in s. Unknown matrix keys are errors since they are fixed at
// plan time; unknown env and github keys expand to the empty string because
// their values may only exist in the process environment at run time.
func Expand(s string, ctx ExprContext) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:start])
		rest = rest[start+3:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated expression in %q", s)
		}
		value, err := resolveRef(strings.TrimSpace(rest[:end]), ctx)
		if err != nil {
			return "", err
		}
		b.WriteString(value)
		rest = rest[end+2:]
	}
}

// ExpandMap expands every value of m, returning a new map. A nil map stays
// nil.
func ExpandMap(m map[string]string, ctx ExprContext) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := Expand(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}

func resolveRef(ref string, ctx ExprContext) (string, error) {
	scope, key, ok := strings.Cut(ref, ".")
	if !ok || key == "" || !validRefKey(key) {
		return "", fmt.Errorf("unsupported expression %q", ref)
	}
	switch scope {
	case "matrix":
		v, ok := ctx.Matrix[key]
		if !ok {
			return "", fmt.Errorf("unknown matrix key %q", key)
		}
		return v, nil
	case "env":
		return ctx.Env[key], nil
	case "github":
		return ctx.GitHub[key], nil
	default:
		return "", fmt.Errorf("unsupported expression scope %q", scope)
	}
}

func validRefKey(key string) bool {
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
