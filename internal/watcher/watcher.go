// Package watcher observes a document folder and emits debounced
// batches of file events, feeding incremental rebuilds of a
// folder-derived collection.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change observed on a file.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change, path relative to the watched root.
type FileEvent struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// DefaultDebounceWindow coalesces editor save bursts into one rebuild.
const DefaultDebounceWindow = 500 * time.Millisecond

// FolderWatcher watches one folder tree recursively. Hidden files and
// directories are ignored, matching the folder ingest rules.
type FolderWatcher struct {
	root      string
	debouncer *Debouncer
	fsw       *fsnotify.Watcher
	errs      chan error

	mu      sync.Mutex
	stopped bool
}

// NewFolderWatcher creates a watcher with the given debounce window.
// window <= 0 uses DefaultDebounceWindow.
func NewFolderWatcher(window time.Duration) *FolderWatcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &FolderWatcher{
		debouncer: NewDebouncer(window),
		errs:      make(chan error, 1),
	}
}

// Start begins watching root recursively until ctx is cancelled or Stop
// is called.
func (w *FolderWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.root = abs

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return err
	}

	go w.loop(ctx)
	slog.Info("watch_started", slog.String("root", abs))
	return nil
}

// Events returns debounced event batches. The channel closes on Stop.
func (w *FolderWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors surfaces watcher failures that ended the watch.
func (w *FolderWatcher) Errors() <-chan error {
	return w.errs
}

// Stop ends the watch. Safe to call more than once.
func (w *FolderWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.debouncer.Stop()
}

// addTree registers root and every non-hidden subdirectory.
func (w *FolderWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *FolderWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
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
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *FolderWatcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	// New directories need a watch of their own; their files arrive as
	// separate create events.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				slog.Warn("watch_add_failed",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	var op Op
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = OpCreate
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		// Chmod and friends don't change content.
		return
	}

	w.debouncer.Add(FileEvent{Path: rel, Op: op, Timestamp: time.Now()})
}
