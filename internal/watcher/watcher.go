// Package watcher turns kernel filesystem notifications into the
// normalized event stream the reducer consumes.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/novik133/novasearch/internal/models"
	"github.com/novik133/novasearch/internal/pathspec"
)

// defaultQueueSize bounds the in-flight event queue. Past this the
// watcher applies backpressure for creates and deletes and drops
// modifications.
const defaultQueueSize = 10000

// IndexedPaths is the read access the watcher needs to synthesize
// recursive deletes: the kernel reports only the removed directory, the
// index knows what lived underneath it.
type IndexedPaths interface {
	PathsUnder(dir string) ([]string, error)
}

// Watcher subscribes to kernel events on a set of roots and emits
// normalized events. Events outside the include policy are discarded at
// this boundary. The policy is swapped atomically on config reload.
type Watcher struct {
	fsw     *fsnotify.Watcher
	spec    atomic.Pointer[pathspec.Spec]
	indexed IndexedPaths
	events  chan models.Event
	logger  *slog.Logger
}

// New creates a watcher over the given policy. queueSize <= 0 selects
// the default bound.
func New(spec *pathspec.Spec, indexed IndexedPaths, queueSize int, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Watcher{
		fsw:     fsw,
		indexed: indexed,
		events:  make(chan models.Event, queueSize),
		logger:  logger,
	}
	w.spec.Store(spec)
	return w, nil
}

// SetSpec swaps in a new include/exclude policy.
func (w *Watcher) SetSpec(spec *pathspec.Spec) { w.spec.Store(spec) }

// Events returns the normalized event stream.
func (w *Watcher) Events() <-chan models.Event { return w.events }

// WatchRoots adds each root's subtree to the watch set. Missing roots
// are skipped with a warning; other failures are returned.
func (w *Watcher) WatchRoots(roots []string) []error {
	var errs []error
	for _, root := range roots {
		if _, err := os.Lstat(root); err != nil {
			w.logger.Warn("watcher: root skipped",
				slog.String("root", root), slog.String("error", err.Error()))
			continue
		}
		if err := w.addDirsRecursive(root); err != nil {
			errs = append(errs, err)
			continue
		}
		w.logger.Info("watcher: watching", slog.String("root", root))
	}
	return errs
}

// DropRoot removes every watch under root.
func (w *Watcher) DropRoot(root string) {
	for _, watched := range w.fsw.WatchList() {
		if watched == root || strings.HasPrefix(watched, root+string(os.PathSeparator)) {
			_ = w.fsw.Remove(watched)
		}
	}
	w.logger.Info("watcher: dropped root", slog.String("root", root))
}

// Close releases the kernel watch descriptors.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run processes kernel events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(watchErr, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher: kernel queue overflowed")
				w.deliver(ctx, models.Event{Kind: models.EventOverflow})
				continue
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	spec := w.spec.Load()
	if !spec.UnderRoot(path) {
		return
	}
	if spec.Excluded(path) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			// Watch the new subtree before enumerating it so nothing
			// created in the gap is missed.
			if err := w.addDirsRecursive(path); err != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", path), slog.String("error", err.Error()))
			}
			w.deliver(ctx, models.Event{Kind: models.EventCreated, Path: path})
			w.enumerateNewDir(ctx, path)
			return
		}
		w.deliver(ctx, models.Event{Kind: models.EventCreated, Path: path})

	case ev.Op&fsnotify.Write != 0 || ev.Op&fsnotify.Chmod != 0:
		w.deliver(ctx, models.Event{Kind: models.EventModified, Path: path})

	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		// Rename reports only the old path here; the destination (if it
		// lands inside a watched subtree) arrives as a separate Create.
		// Without a pairing token the rename downgrades to
		// delete-then-create.
		w.deliverSubtreeDeletes(ctx, path)
		w.deliver(ctx, models.Event{Kind: models.EventDeleted, Path: path})
	}
}

// enumerateNewDir emits Created for everything already inside a
// directory that appeared at runtime (files written before the watch
// was in place).
func (w *Watcher) enumerateNewDir(ctx context.Context, dir string) {
	spec := w.spec.Load()
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir {
			return nil
		}
		if spec.Excluded(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		w.deliver(ctx, models.Event{Kind: models.EventCreated, Path: p})
		return nil
	})
}

// deliverSubtreeDeletes synthesizes Deleted events for indexed entries
// under a removed directory.
func (w *Watcher) deliverSubtreeDeletes(ctx context.Context, dir string) {
	if w.indexed == nil {
		return
	}
	children, err := w.indexed.PathsUnder(dir)
	if err != nil {
		w.logger.Warn("watcher: subtree lookup failed",
			slog.String("path", dir), slog.String("error", err.Error()))
		return
	}
	for _, child := range children {
		w.deliver(ctx, models.Event{Kind: models.EventDeleted, Path: child})
	}
}

// deliver enqueues one event. When the queue is full, modifications are
// dropped (a later scan or write will re-derive them); creates and
// deletes block, applying backpressure to the kernel reader.
func (w *Watcher) deliver(ctx context.Context, ev models.Event) {
	select {
	case w.events <- ev:
		return
	default:
	}

	if ev.Kind == models.EventModified {
		w.logger.Debug("watcher: queue full, modification dropped",
			slog.String("path", ev.Path))
		return
	}

	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// addDirsRecursive adds root and all its subdirectories to the watch
// set, skipping excluded subtrees.
func (w *Watcher) addDirsRecursive(root string) error {
	spec := w.spec.Load()
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("watcher: watch skipped",
				slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && spec.Excluded(path) {
			return fs.SkipDir
		}
		return w.fsw.Add(path)
	})
}
