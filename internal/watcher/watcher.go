package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
)

const (
	defaultStability = 300 * time.Millisecond
	taskBuffer       = 64
	taskIDPrefix     = "file"
)

// Options configures a Watcher.
type Options struct {
	Root      string
	Patterns  []string
	Ignore    []string
	Stability time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

type pendingKind int

const (
	kindChanged pendingKind = iota
	kindAdded
	kindRemoved
)

type pending struct {
	gen   uint64
	kind  pendingKind
	timer *time.Timer
}

type settled struct {
	path string
	gen  uint64
}

// Watcher emits file-change tasks for stable edits under Root.
type Watcher struct {
	root      string
	patterns  []string
	match     matcher
	stability time.Duration
	logger    *slog.Logger
	now       func() time.Time
	tasks     chan ipc.Task

	// known holds matching files that existed at the last look. Only the
	// event loop touches it once Start returns.
	known map[string]struct{}

	mu      sync.Mutex
	running bool
	fsw     *fsnotify.Watcher
	quit    chan struct{}
	done    chan struct{}
}

// New builds a watcher. Nothing is watched until Start.
func New(opts Options) *Watcher {
	stability := opts.Stability
	if stability <= 0 {
		stability = defaultStability
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Watcher{
		root:      opts.Root,
		patterns:  append([]string(nil), opts.Patterns...),
		match:     newMatcher(opts.Patterns, opts.Ignore),
		stability: stability,
		logger:    logging.NewComponentLogger(opts.Logger, "watcher"),
		now:       now,
		tasks:     make(chan ipc.Task, taskBuffer),
		known:     make(map[string]struct{}),
	}
}

// Tasks delivers file-change tasks.
func (w *Watcher) Tasks() <-chan ipc.Task {
	return w.tasks
}

// WatchedPaths returns the configured include patterns.
func (w *Watcher) WatchedPaths() []string {
	return append([]string(nil), w.patterns...)
}

// Start registers watches on the workspace tree and begins emitting tasks.
// Starting an already running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dirs, err := w.addTree(fsw, w.root)
	if err != nil {
		_ = fsw.Close()
		return err
	}

	w.fsw = fsw
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, fsw, w.quit, w.done)

	w.logger.Info("file watcher started",
		logging.String(logging.FieldEventType, "watcher_started"),
		logging.String(logging.FieldWorkspace, w.root),
		logging.Strings("patterns", w.patterns),
		logging.Strings("ignore", w.match.ignore),
		logging.Int("directories", dirs),
	)
	return nil
}

// Stop releases all watches. It is safe to call when not started and more
// than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.quit)
	fsw := w.fsw
	w.fsw = nil
	done := w.done
	w.mu.Unlock()

	_ = fsw.Close()
	<-done
	w.logger.Info("file watcher stopped", logging.String(logging.FieldEventType, "watcher_stopped"))
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("walk %s: %w", path, err)
			}
			w.logger.Debug("skipping unreadable path", logging.String(logging.FieldPath, path), logging.Error(err))
			return nil
		}
		rel, ok := relSlash(w.root, path)
		if !d.IsDir() {
			if ok && w.match.matchFile(rel) {
				w.known[path] = struct{}{}
			}
			return nil
		}
		if ok && w.match.ignoredDir(rel) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			logging.WarnWithContext(w.logger, "watch directory failed", "watch_add_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "edits in this directory are not tracked"),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or add the directory to watch.ignore"),
			)
			return nil
		}
		count++
		return nil
	})
	return count, err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	pendingByPath := make(map[string]*pending)
	settledCh := make(chan settled, taskBuffer)
	var gen uint64

	defer func() {
		for _, p := range pendingByPath {
			p.timer.Stop()
		}
	}()

	schedule := func(path string, kind pendingKind) {
		gen++
		current := gen
		p, ok := pendingByPath[path]
		if ok {
			p.timer.Stop()
			p.kind = mergeKind(p.kind, kind)
		} else {
			p = &pending{kind: kind}
			pendingByPath[path] = p
		}
		p.gen = current
		p.timer = time.AfterFunc(w.stability, func() {
			select {
			case settledCh <- settled{path: path, gen: current}:
			case <-quit:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, event, schedule)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "file watcher error", "watcher_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some edits may be missed; watching continues"),
				logging.String(logging.FieldErrorHint, "check inotify limits and workspace permissions"),
			)
		case s := <-settledCh:
			p, ok := pendingByPath[s.path]
			if !ok || p.gen != s.gen {
				continue
			}
			delete(pendingByPath, s.path)
			if !w.settle(s.path, p.kind) {
				continue
			}
			if !w.emit(s.path, quit) {
				return
			}
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event, schedule func(string, pendingKind)) {
	rel, ok := relSlash(w.root, event.Name)
	if !ok || rel == "." {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.match.ignoredDir(rel) {
				return
			}
			if _, err := w.addTree(fsw, event.Name); err != nil {
				w.logger.Debug("watch new directory failed", logging.String(logging.FieldPath, event.Name), logging.Error(err))
			}
			return
		}
	}

	if !w.match.matchFile(rel) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		schedule(event.Name, kindRemoved)
	case event.Has(fsnotify.Create):
		if _, existed := w.known[event.Name]; existed {
			schedule(event.Name, kindChanged)
		} else {
			schedule(event.Name, kindAdded)
		}
	case event.Has(fsnotify.Write):
		schedule(event.Name, kindChanged)
	}
}

// mergeKind folds a new event into the pending one. A create that follows a
// remove is an atomic save and counts as a change. Writes to a freshly
// created file stay part of the add.
func mergeKind(prev, next pendingKind) pendingKind {
	switch {
	case prev == kindRemoved && next == kindAdded:
		return kindChanged
	case prev == kindAdded && next == kindChanged:
		return kindAdded
	case prev == kindAdded && next == kindRemoved:
		return kindRemoved
	default:
		return next
	}
}

// settle reports whether a quiet path should become a task.
func (w *Watcher) settle(path string, kind pendingKind) bool {
	switch kind {
	case kindAdded:
		if _, err := os.Stat(path); err == nil {
			w.known[path] = struct{}{}
		}
		w.logger.Debug("file added", logging.String(logging.FieldPath, path))
		return false
	case kindRemoved:
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			delete(w.known, path)
			w.logger.Debug("file removed", logging.String(logging.FieldPath, path))
			return false
		}
		w.known[path] = struct{}{}
		return true
	default:
		if _, err := os.Stat(path); err != nil {
			return false
		}
		w.known[path] = struct{}{}
		return true
	}
}

func (w *Watcher) emit(path string, quit <-chan struct{}) bool {
	now := w.now()
	task, err := ipc.NewTask(ipc.TaskFileChange, ipc.FileChangePayload{FilePath: path}, now)
	if err != nil {
		w.logger.Error("build file-change task failed", logging.String(logging.FieldPath, path), logging.Error(err))
		return true
	}
	task.ID = ipc.NewTaskID(taskIDPrefix, now)
	select {
	case w.tasks <- task:
		return true
	case <-quit:
		return false
	}
}
