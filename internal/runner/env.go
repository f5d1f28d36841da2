package runner

import (
	"os"
	"sort"
	"strings"
)

// EnvName returns the MATRIX_* environment variable name for a matrix key:
// upper-cased, with every non-alphanumeric character mapped to underscore.
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString("MATRIX_")
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// buildEnv layers the process environment, the merged workflow and job env,
// MATRIX_* variables, and the injected GITHUB_* and GANTRY_* context. Later
// entries win for duplicate keys, so the append order is the precedence
// order.
func buildEnv(spec Spec) []string {
	env := os.Environ()
	for _, k := range sortedKeys(spec.Env) {
		env = append(env, k+"="+spec.Env[k])
	}
	for _, k := range spec.Matrix.Keys {
		env = append(env, EnvName(k)+"="+spec.Matrix.Values[k])
	}
	for _, k := range sortedKeys(spec.GitHub) {
		env = append(env, "GITHUB_"+strings.ToUpper(k)+"="+spec.GitHub[k])
	}
	if spec.RunID != "" {
		env = append(env, "GANTRY_RUN_ID="+spec.RunID)
	}
	if spec.JobName != "" {
		env = append(env, "GANTRY_JOB="+spec.JobName)
	}
	if spec.CoverageFile != "" {
		env = append(env, "GANTRY_COVERAGE="+spec.CoverageFile)
	}
	return env
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
