package checks

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gantry/internal/workflow"
)

// Context gives checks read access to the repository under check. Workflow
// parsing and the file listing are cached so several checks share the work.
type Context struct {
	root string

	wfOnce    sync.Once
	workflows []*workflow.Workflow
	wfErr     error

	filesOnce sync.Once
	files     []string
	filesErr  error
}

func NewContext(root string) *Context {
	return &Context{root: root}
}

func (c *Context) Root() string {
	return c.root
}

// Name identifies the repository in results: the base name of its root.
func (c *Context) Name() string {
	abs, err := filepath.Abs(c.root)
	if err != nil {
		return c.root
	}
	return filepath.Base(abs)
}

// Workflows parses the repository's workflow files once. Both return values
// matter: parse failures come back joined alongside whatever parsed cleanly.
func (c *Context) Workflows() ([]*workflow.Workflow, error) {
	c.wfOnce.Do(func() {
		c.workflows, c.wfErr = workflow.Discover(c.root)
	})
	return c.workflows, c.wfErr
}

// WorkflowFiles lists the raw workflow file paths.
func (c *Context) WorkflowFiles() ([]string, error) {
	return workflow.Files(c.root)
}

func (c *Context) FileExists(rel string) bool {
	info, err := os.Stat(filepath.Join(c.root, filepath.FromSlash(rel)))
	return err == nil && info.Mode().IsRegular()
}

func (c *Context) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(c.root, filepath.FromSlash(rel)))
}

// Files lists every regular file under the root as sorted slash-separated
// relative paths. The .git and .gantry trees are not part of what a
// repository ships, so they are left out.
func (c *Context) Files() ([]string, error) {
	c.filesOnce.Do(func() {
		var files []string
		err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, relErr := filepath.Rel(c.root, path)
			if relErr != nil {
				return relErr
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if rel == ".git" || rel == ".gantry" || strings.HasSuffix(rel, "/.git") {
					return fs.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, rel)
			}
			return nil
		})
		if err != nil {
			c.filesErr = err
			return
		}
		sort.Strings(files)
		c.files = files
	})
	return c.files, c.filesErr
}
