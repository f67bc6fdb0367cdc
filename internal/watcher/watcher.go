// Package watcher turns file system activity under a project root into
// debounced refresh requests.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/pathfilter"
)

// DefaultDebounce is the quiet period before a batch is delivered.
const DefaultDebounce = 2 * time.Second

// Op is a file system operation.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
	OpRename
	// OpRulesChange marks an edit to .gitignore, the ignore list or the
	// project config.
	OpRulesChange
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpRulesChange:
		return "RULES_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// Event is a change to a path relative to the watched root.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before OnChange is called.
	Debounce time.Duration

	// OnChange receives each debounced batch. It must not block for long.
	OnChange func([]Event)

	// Reload rebuilds the path filter after the ignore list changes.
	// Optional.
	Reload func() (*pathfilter.Filter, error)
}

// Watcher watches a project tree recursively with fsnotify.
type Watcher struct {
	root   string
	reload func() (*pathfilter.Filter, error)
	fsw    *fsnotify.Watcher

	filterMu sync.RWMutex
	filter   *pathfilter.Filter

	deb *Debouncer

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a Watcher for root. Paths excluded by filter are not
// watched and produce no events.
func New(root string, filter *pathfilter.Filter, opts Options) (*Watcher, error) {
	if filter == nil {
		return nil, errors.New("watcher: path filter is required")
	}
	if opts.OnChange == nil {
		return nil, errors.New("watcher: OnChange is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:   abs,
		filter: filter,
		reload: opts.Reload,
		fsw:    fsw,
		deb:    NewDebouncer(opts.Debounce, opts.OnChange),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start registers every eligible directory and begins delivering events in
// a background goroutine. It returns once the tree is registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return errors.New("watcher: already started")
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		close(w.doneCh)
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	slog.Debug("watcher_started", slog.String("root", w.root), slog.Int("dirs", len(w.fsw.WatchList())))

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	close(w.stopCh)
	if started {
		<-w.doneCh
	}
	w.deb.Stop()
	return w.fsw.Close()
}

// handle converts and filters one fsnotify event.
func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if internalPath(rel) {
		return
	}

	isDir := false
	if info, err := os.Lstat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	if isRulesFile(rel) {
		w.rulesChanged(rel)
		w.deb.Add(Event{Path: rel, Op: OpRulesChange})
		return
	}
	filter := w.currentFilter()
	if isDir && filter.SkipDir(rel) {
		return
	}
	if !isDir && filter.Excluded(rel) {
		return
	}

	var op Op
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = OpCreate
		if isDir {
			if err := w.addRecursive(ev.Name); err != nil {
				slog.Warn("watcher_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
		}
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Op.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.deb.Add(Event{Path: rel, Op: op, IsDir: isDir})
}

func (w *Watcher) currentFilter() *pathfilter.Filter {
	w.filterMu.RLock()
	defer w.filterMu.RUnlock()
	return w.filter
}

// rulesChanged refreshes the filter after a rules file was edited.
func (w *Watcher) rulesChanged(rel string) {
	if filepath.Base(rel) != config.IgnoreFileName || w.reload == nil {
		w.currentFilter().InvalidateGitignore()
		return
	}
	f, err := w.reload()
	if err != nil {
		slog.Warn("watcher_filter_reload_failed", slog.String("error", err.Error()))
		return
	}
	w.filterMu.Lock()
	w.filter = f
	w.filterMu.Unlock()
}

// addRecursive adds dir and every eligible directory below it.
func (w *Watcher) addRecursive(dir string) error {
	filter := w.currentFilter()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		rel = filepath.ToSlash(rel)
		if rel != "." && (internalPath(rel) || filter.SkipDir(rel)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func internalPath(rel string) bool {
	first := rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		first = rel[:i]
	}
	return first == ".git" || first == config.IndexDirName
}

func isRulesFile(rel string) bool {
	switch filepath.Base(rel) {
	case ".gitignore", config.IgnoreFileName, config.ProjectConfigName:
		return true
	}
	return false
}
