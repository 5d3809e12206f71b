package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/novik133/novasearch/internal/paths"
	"github.com/novik133/novasearch/internal/pathspec"
	"github.com/novik133/novasearch/internal/reducer"
	"github.com/novik133/novasearch/internal/store"
	"github.com/novik133/novasearch/internal/watcher"
)

// Run starts the daemon with the given options and blocks until it
// stops. A non-nil error means the daemon could not reach or hold a
// working state (store unusable, config unreadable).
func Run(ctx context.Context, opts ...Option) error {
	app := &application{
		configPath:       paths.ConfigPath(),
		systemConfigPath: paths.SystemConfigPath(),
		indexPath:        paths.IndexPath(),
	}
	for _, opt := range opts {
		opt(app)
	}

	// Bootstrap logger; replaced once the config's level is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfgWatch, err := NewConfigWatcher(app.configPath, app.systemConfigPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgWatch.Current()

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Daemon.LogLevel,
	}))
	slog.SetDefault(logger)
	cfgWatch.logger = logger

	if err := paths.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.OpenReadWrite(app.indexPath)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer st.Close()

	roots, bad := cfg.ExpandedRoots()
	for p, err := range bad {
		logger.Warn("include path ignored",
			slog.String("path", p), slog.String("error", err.Error()))
	}
	appRoots := paths.ApplicationRoots()

	spec, specErrs := pathspec.New(roots, cfg.Indexing.ExcludePatterns, appRoots)
	for _, err := range specErrs {
		logger.Warn(err.Error())
	}

	wt, err := watcher.New(spec, st, 0, logger)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	defer wt.Close()

	red := reducer.New(st, cfg.Performance.BatchSize, cfg.Performance.FlushInterval(), logger)

	logger.Info("configuration loaded",
		slog.String("index_path", app.indexPath),
		slog.String("config_path", app.configPath),
		slog.Int("roots", len(roots)),
		slog.String("log_level", cfg.Daemon.LogLevel.String()))

	// compCtx keeps the watcher and reducer alive while the supervisor
	// drains after the outer context is cancelled.
	compCtx, compCancel := context.WithCancel(context.Background())
	defer compCancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return cfgWatch.Run(compCtx) })
	g.Go(func() error { return wt.Run(compCtx) })
	g.Go(func() error { return red.Run(compCtx) })

	sup := newSupervisor(cfgWatch, st, wt, red, spec, appRoots, logger)
	g.Go(func() error {
		defer compCancel()
		return sup.run(gCtx, compCtx)
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			return context.Canceled
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("daemon error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("daemon stopped")
	return nil
}
