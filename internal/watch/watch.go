// Package watch reacts to filesystem changes: workflow edits trigger
// revalidation, version file edits trigger the release decision.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gantry/internal/workflow"
)

// Handler receives settled changes. Callbacks run on the watch loop, one at
// a time.
type Handler struct {
	// OnWorkflows runs after workflow file changes settle, with the sorted
	// paths of the files that changed.
	OnWorkflows func(paths []string)
	// OnVersion runs after the version file settles.
	OnVersion func(path string)
}

// Watcher debounces filesystem events per path: a burst of writes to one
// file triggers its handler once, after the burst goes quiet.
type Watcher struct {
	workflowDir string
	versionPath string
	debounce    time.Duration
	handler     Handler
	log         *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
}

// New watches root's workflow directory and the version file's directory.
// versionFile is relative to root unless absolute.
func New(root, versionFile string, debounce time.Duration, h Handler, log *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		return nil, fmt.Errorf("debounce must be > 0")
	}
	if log == nil {
		log = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	versionPath := versionFile
	if !filepath.IsAbs(versionPath) {
		versionPath = filepath.Join(absRoot, versionPath)
	}
	workflowDir := filepath.Join(absRoot, filepath.FromSlash(workflow.Dir))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(workflowDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", workflowDir, err)
	}
	// Editors replace files by rename, so watch the parent directory rather
	// than the file itself.
	versionDir := filepath.Dir(versionPath)
	if versionDir != workflowDir {
		if err := fsw.Add(versionDir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", versionDir, err)
		}
	}

	return &Watcher{
		workflowDir: workflowDir,
		versionPath: versionPath,
		debounce:    debounce,
		handler:     h,
		log:         log,
		fsw:         fsw,
		pending:     make(map[string]time.Time),
	}, nil
}

// Run blocks until ctx is canceled or the underlying watcher closes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	interval := w.debounce / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	w.log.Info("watching",
		"workflows", w.workflowDir,
		"version_file", w.versionPath,
		"debounce", w.debounce.String(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.observe(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch error", "error", err)
		case <-tick.C:
			w.flush(time.Now())
		}
	}
}

// observe records one raw event for debouncing, dropping everything that is
// neither a workflow file nor the version file.
func (w *Watcher) observe(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	path := filepath.Clean(ev.Name)
	if !w.isWorkflowFile(path) && path != w.versionPath {
		return
	}
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) isWorkflowFile(path string) bool {
	if filepath.Dir(path) != w.workflowDir {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

// flush triggers handlers for paths whose last event is at least one
// debounce interval old.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var workflows []string
	versionHit := false
	for path, last := range w.pending {
		if now.Sub(last) < w.debounce {
			continue
		}
		delete(w.pending, path)
		if path == w.versionPath {
			versionHit = true
			continue
		}
		workflows = append(workflows, path)
	}
	w.mu.Unlock()

	if len(workflows) > 0 {
		sort.Strings(workflows)
		w.log.Info("workflow files changed", "files", len(workflows))
		if w.handler.OnWorkflows != nil {
			w.handler.OnWorkflows(workflows)
		}
	}
	if versionHit {
		w.log.Info("version file changed", "path", w.versionPath)
		if w.handler.OnVersion != nil {
			w.handler.OnVersion(w.versionPath)
		}
	}
}
