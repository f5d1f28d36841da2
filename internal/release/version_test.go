package release

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		release []int
		phase   string
		phaseN  int
		wantErr bool
	}{
		{in: "0.9.3", release: []int{0, 9, 3}},
		{in: "v1.2.0", release: []int{1, 2, 0}},
		{in: "0.10.0rc1", release: []int{0, 10, 0}, phase: "rc", phaseN: 1},
		{in: "0.11.dev0", release: []int{0, 11}, phase: "dev", phaseN: 0},
		{in: "1.0.0a2", release: []int{1, 0, 0}, phase: "a", phaseN: 2},
		{in: "2.0b1", release: []int{2, 0}, phase: "b", phaseN: 1},
		{in: " 0.9.3 ", release: []int{0, 9, 3}},
		{in: "not-a-version", wantErr: true},
		{in: "1.2.3-final", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion: %v", err)
			}
			if len(v.Release) != len(tt.release) {
				t.Fatalf("release = %v, want %v", v.Release, tt.release)
			}
			for i := range tt.release {
				if v.Release[i] != tt.release[i] {
					t.Fatalf("release = %v, want %v", v.Release, tt.release)
				}
			}
			if v.Phase != tt.phase || v.PhaseN != tt.phaseN {
				t.Fatalf("phase = %q/%d, want %q/%d", v.Phase, v.PhaseN, tt.phase, tt.phaseN)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.9.3", "0.9.3", 0},
		{"1.2", "1.2.0", 0},
		{"0.9.3", "0.9.4", -1},
		{"0.10.0", "0.9.9", 1},
		{"0.10.0rc1", "0.10.0", -1},
		{"0.10.0.dev0", "0.10.0a1", -1},
		{"0.10.0a1", "0.10.0b1", -1},
		{"0.10.0b1", "0.10.0rc1", -1},
		{"0.10.0rc1", "0.10.0rc2", -1},
		{"1.0.0", "0.10.0rc1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			if err != nil {
				t.Fatal(err)
			}
			b, err := ParseVersion(tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got := Compare(a, b); got != tt.want {
				t.Fatalf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := Compare(b, a); got != -tt.want {
				t.Fatalf("Compare(%s, %s) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestParseVersionFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr string
	}{
		{
			name: "python assignment",
			content: `author = "example developers"
version = "0.9.3"
license = "MIT"
`,
			want: "0.9.3",
		},
		{
			name:    "dunder assignment",
			content: "__version__ = '0.11.dev0'\n",
			want:    "0.11.dev0",
		},
		{
			name:    "yaml style",
			content: "version: 0.10.0rc1\n",
			want:    "0.10.0rc1",
		},
		{
			name:    "json document",
			content: `{"name": "demo", "version": "1.4.0"}`,
			want:    "1.4.0",
		},
		{
			name:    "bare line",
			content: "2.0.1\n",
			want:    "2.0.1",
		},
		{
			name:    "empty",
			content: "   \n",
			wantErr: "empty",
		},
		{
			name:    "json without version",
			content: `{"name": "demo"}`,
			wantErr: "no \"version\" key",
		},
		{
			name:    "nothing parsable",
			content: "just some text\nmore text\n",
			wantErr: "no version found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersionFile([]byte(tt.content))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersionFile: %v", err)
			}
			if got != tt.want {
				t.Fatalf("version = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadVersionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "VERSION")
	if err := os.WriteFile(path, []byte("0.5.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadVersionFile(path)
	if err != nil {
		t.Fatalf("ReadVersionFile: %v", err)
	}
	if got != "0.5.0" {
		t.Fatalf("version = %q", got)
	}

	if _, err := ReadVersionFile(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
