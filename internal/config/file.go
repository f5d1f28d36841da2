package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the per-repository config file looked up under the run root.
const FileName = "gantry.toml"

// File is the gantry.toml schema. Fields are pointers so an unset key is
// distinguishable from an explicit zero; CLI flags always win over file
// values.
type File struct {
	Root        *string `toml:"root"`
	Concurrency *int    `toml:"concurrency"`
	Verbose     *bool   `toml:"verbose"`

	Output   FileOutput   `toml:"output"`
	Coverage FileCoverage `toml:"coverage"`
	Checks   FileChecks   `toml:"checks"`
	Release  FileRelease  `toml:"release"`
	Server   FileServer   `toml:"server"`
	Watch    FileWatch    `toml:"watch"`
	GitHub   FileGitHub   `toml:"github"`
}

type FileOutput struct {
	ConsoleFormat *string `toml:"console_format"`
	Report        *string `toml:"report"`
	Out           *string `toml:"out"`
	OutFormat     *string `toml:"out_format"`
}

type FileCoverage struct {
	Enabled   *bool    `toml:"enabled"`
	Ignore    []string `toml:"ignore"`
	UploadURL *string  `toml:"upload_url"`
}

type FileChecks struct {
	Selector *string  `toml:"selector"`
	Set      []string `toml:"set"`
}

type FileRelease struct {
	VersionFile *string `toml:"version_file"`
	Package     *string `toml:"package"`
	IndexURL    *string `toml:"index_url"`
	Repo        *string `toml:"repo"`
	Auto        *bool   `toml:"auto"`
}

type FileServer struct {
	Addr    *string `toml:"addr"`
	EnvFile *string `toml:"env_file"`
}

type FileWatch struct {
	// Debounce is a Go duration string such as "500ms".
	Debounce *string `toml:"debounce"`
}

type FileGitHub struct {
	BaseURL *string `toml:"base_url"`
}

// Load reads root/gantry.toml. A missing file is not an error; it returns
// (nil, nil). Unknown keys are rejected so typos surface instead of being
// silently ignored.
func Load(root string) (*File, error) {
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	var f File
	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%s: unknown keys:\n%s", path, strict.String())
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if f.Watch.Debounce != nil {
		if _, err := time.ParseDuration(*f.Watch.Debounce); err != nil {
			return nil, fmt.Errorf("%s: watch.debounce: %w", path, err)
		}
	}
	return &f, nil
}

// DebounceDuration parses the watch.debounce value. Only valid after Load
// succeeded.
func (f *File) DebounceDuration() (time.Duration, bool) {
	if f == nil || f.Watch.Debounce == nil {
		return 0, false
	}
	d, err := time.ParseDuration(*f.Watch.Debounce)
	if err != nil {
		return 0, false
	}
	return d, true
}
