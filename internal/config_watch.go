package internal

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	pkgconfig "github.com/novik133/novasearch/pkg/config"
)

// configPropagateInterval is the minimum spacing between propagated
// snapshots. Config reloads are debounced much harder than filesystem
// events: editors write config files in bursts and a re-index is
// expensive.
const configPropagateInterval = 10 * time.Second

// ConfigWatcher watches the configuration file and hands out immutable
// snapshots. The current snapshot is swapped atomically; subscribers
// receive new snapshots on Updates.
type ConfigWatcher struct {
	path        string
	defaultPath string
	logger      *slog.Logger

	current atomic.Pointer[Config]
	updates chan *Config

	lastSum       [sha256.Size]byte
	lastPropagate time.Time
}

// NewConfigWatcher loads the initial configuration (falling back to the
// system default file, then to built-in defaults) and prepares a watcher
// for path. A load failure at startup is fatal; later failures keep the
// previous snapshot.
func NewConfigWatcher(path, defaultPath string, logger *slog.Logger) (*ConfigWatcher, error) {
	cw := &ConfigWatcher{
		path:        path,
		defaultPath: defaultPath,
		logger:      logger,
		updates:     make(chan *Config, 1),
	}

	cfg := NewDefaultConfig()
	unknown, err := pkgconfig.LoadWithDefaults(path, defaultPath, cfg)
	if err != nil {
		return nil, err
	}
	for _, k := range unknown {
		logger.Warn("config: unknown key ignored", slog.String("key", k))
	}
	cw.current.Store(cfg)
	if data, err := os.ReadFile(path); err == nil {
		cw.lastSum = sha256.Sum256(data)
	}
	return cw, nil
}

// Current returns the active configuration snapshot.
func (cw *ConfigWatcher) Current() *Config {
	return cw.current.Load()
}

// Updates delivers new snapshots. The channel has capacity one; an
// undelivered snapshot is replaced by a newer one.
func (cw *ConfigWatcher) Updates() <-chan *Config {
	return cw.updates
}

// Run watches the config file's directory until ctx is cancelled.
// Watching the directory rather than the file survives the
// write-tmp-then-rename pattern editors use.
func (cw *ConfigWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(cw.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}

	cw.logger.Info("config: watching", slog.String("path", cw.path))

	// reloadTimer debounces bursts of writes before a reload attempt.
	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func(d time.Duration) {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(d)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(d)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return nil

		case <-reloadCh:
			cw.reload()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Hold back until the propagation window has passed.
			wait := 500 * time.Millisecond
			if since := time.Since(cw.lastPropagate); since < configPropagateInterval {
				wait = configPropagateInterval - since
			}
			scheduleReload(wait)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			cw.logger.Error("config: watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// reload re-reads the config file. Unchanged content and parse or
// validation failures leave the current snapshot in place.
func (cw *ConfigWatcher) reload() {
	data, err := os.ReadFile(cw.path)
	if err != nil {
		cw.logger.Warn("config: reload read failed", slog.String("error", err.Error()))
		return
	}
	sum := sha256.Sum256(data)
	if sum == cw.lastSum {
		cw.logger.Debug("config: content unchanged, reload skipped")
		return
	}

	cfg := NewDefaultConfig()
	unknown, err := pkgconfig.Load(cw.path, cfg)
	if err != nil {
		cw.logger.Error("config: reload failed, previous config retained",
			slog.String("error", err.Error()))
		return
	}
	for _, k := range unknown {
		cw.logger.Warn("config: unknown key ignored", slog.String("key", k))
	}

	cw.lastSum = sum
	cw.lastPropagate = time.Now()
	cw.current.Store(cfg)

	// Replace any undelivered snapshot with the newest.
	select {
	case <-cw.updates:
	default:
	}
	cw.updates <- cfg
	cw.logger.Info("config: reloaded")
}
