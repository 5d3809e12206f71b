package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/novik133/novasearch/internal/models"
	"github.com/novik133/novasearch/internal/pathspec"
	"github.com/novik133/novasearch/internal/testutil"
)

// fakeIndex provides canned subtree contents for delete synthesis.
type fakeIndex struct {
	mu    sync.Mutex
	under map[string][]string
}

func (f *fakeIndex) PathsUnder(dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.under[dir], nil
}

type capture struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *capture) drain(ctx context.Context, ch <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
	}
}

func (c *capture) has(kind models.EventKind, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Kind == kind && ev.Path == path {
			return true
		}
	}
	return false
}

func watcherEnv(t *testing.T, patterns []string, idx IndexedPaths) (string, *Watcher, *capture) {
	t.Helper()
	root := t.TempDir()
	spec, errs := pathspec.New([]string{root}, patterns, nil)
	if len(errs) > 0 {
		t.Fatal(errs)
	}

	w, err := New(spec, idx, 0, testutil.QuietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })

	if errs := w.WatchRoots([]string{root}); len(errs) > 0 {
		t.Fatal(errs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	c := &capture{}
	go c.drain(ctx, w.Events())

	time.Sleep(100 * time.Millisecond) // let the watch settle
	return root, w, c
}

func TestWatcherCreate(t *testing.T) {
	root, _, c := watcherEnv(t, nil, nil)

	p := filepath.Join(root, "new.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventCreated, p)
	}, "no created event for new file")
}

func TestWatcherDelete(t *testing.T) {
	root, _, c := watcherEnv(t, nil, nil)

	p := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventCreated, p)
	}, "no created event")

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventDeleted, p)
	}, "no deleted event for removed file")
}

func TestWatcherNewDirContentsEnumerated(t *testing.T) {
	root, _, c := watcherEnv(t, nil, nil)

	// Build the directory outside the watched tree, populate it, then
	// move it in: its contents predate the watch on the new subtree.
	staging := filepath.Join(t.TempDir(), "incoming")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	inner := filepath.Join(staging, "inner.txt")
	if err := os.WriteFile(inner, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(root, "incoming")
	if err := os.Rename(staging, dst); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventCreated, dst) &&
			c.has(models.EventCreated, filepath.Join(dst, "inner.txt"))
	}, "new directory contents not enumerated")

	// And the new subtree is live: later writes inside it are seen.
	late := filepath.Join(dst, "late.txt")
	if err := os.WriteFile(late, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventCreated, late)
	}, "no event for file created inside new directory")
}

func TestWatcherExcludedFiltered(t *testing.T) {
	root, _, c := watcherEnv(t, []string{"*.log"}, nil)

	logFile := filepath.Join(root, "noisy.log")
	keep := filepath.Join(root, "keep.txt")
	_ = os.WriteFile(logFile, []byte("x"), 0o644)
	_ = os.WriteFile(keep, []byte("x"), 0o644)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventCreated, keep)
	}, "included file not seen")

	if c.has(models.EventCreated, logFile) {
		t.Error("excluded file produced an event")
	}
}

func TestWatcherDirDeleteSynthesizesSubtree(t *testing.T) {
	idx := &fakeIndex{under: map[string][]string{}}
	root, _, c := watcherEnv(t, nil, idx)

	dir := filepath.Join(root, "sub")
	child := filepath.Join(dir, "child.txt")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventCreated, dir)
	}, "dir creation not seen")

	idx.mu.Lock()
	idx.under[dir] = []string{child}
	idx.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventDeleted, dir) && c.has(models.EventDeleted, child)
	}, "subtree delete not synthesized")
}

func TestWatcherDropRoot(t *testing.T) {
	root, w, c := watcherEnv(t, nil, nil)

	w.DropRoot(root)
	time.Sleep(100 * time.Millisecond)

	p := filepath.Join(root, "after-drop.txt")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	time.Sleep(300 * time.Millisecond)

	if c.has(models.EventCreated, p) {
		t.Error("event delivered for dropped root")
	}
}
