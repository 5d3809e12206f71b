package internal

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/novik133/novasearch/internal/models"
	"github.com/novik133/novasearch/internal/paths"
	"github.com/novik133/novasearch/internal/pathspec"
	"github.com/novik133/novasearch/internal/reducer"
	"github.com/novik133/novasearch/internal/scanner"
	"github.com/novik133/novasearch/internal/statusfile"
	"github.com/novik133/novasearch/internal/store"
	"github.com/novik133/novasearch/internal/watcher"
)

// Daemon states, as published in the status snapshot.
const (
	StateStarting    = "starting"
	StateInitialScan = "initial_scan"
	StateSteady      = "steady"
	StateReindexing  = "reindexing"
	StateDraining    = "draining"
	StateStopped     = "stopped"
)

// drainGrace is how long shutdown waits for the final flush before
// abandoning partially drained batches.
const drainGrace = 5 * time.Second

// heartbeatInterval paces status-snapshot rewrites between transitions.
const heartbeatInterval = 30 * time.Second

type scanResult struct {
	full bool
	err  error
}

// supervisor wires the components and owns the daemon state machine.
type supervisor struct {
	cfgWatch *ConfigWatcher
	st       *store.Store
	wt       *watcher.Watcher
	red      *reducer.Reducer
	logger   *slog.Logger

	cfg      *Config
	spec     *pathspec.Spec
	appRoots []string

	state       string
	lastErr     string
	lastScan    time.Time
	scansActive int
	scanDone    chan scanResult
}

func newSupervisor(cfgWatch *ConfigWatcher, st *store.Store, wt *watcher.Watcher,
	red *reducer.Reducer, spec *pathspec.Spec, appRoots []string,
	logger *slog.Logger) *supervisor {
	return &supervisor{
		cfgWatch: cfgWatch,
		st:       st,
		wt:       wt,
		red:      red,
		logger:   logger,
		cfg:      cfgWatch.Current(),
		spec:     spec,
		appRoots: appRoots,
		state:    StateStarting,
		scanDone: make(chan scanResult, 4),
	}
}

// allRoots is the effective root set: user roots plus application roots.
func (s *supervisor) allRoots() []string {
	return s.spec.Roots()
}

// run drives the daemon until ctx is cancelled. compCtx governs the
// component goroutines and the scans launched here; it outlives ctx so
// the drain flush can still reach the reducer.
func (s *supervisor) run(ctx, compCtx context.Context) error {
	s.publish()

	// Watches must be in place before the scan enumerates each subtree,
	// otherwise files created mid-scan are missed.
	if errs := s.wt.WatchRoots(s.allRoots()); len(errs) > 0 {
		for _, err := range errs {
			s.logger.Warn("supervisor: watch failed", slog.String("error", err.Error()))
		}
		s.lastErr = errs[len(errs)-1].Error()
	}

	s.setState(StateInitialScan)
	s.startScan(compCtx, s.allRoots(), true)

	ctl, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer ctl.Close()
	if err := ctl.Add(paths.DataDir()); err != nil {
		s.logger.Warn("supervisor: control watch failed", slog.String("error", err.Error()))
	}
	ctlEvents := ctl.Events

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.drain()

		case ev := <-s.wt.Events():
			s.onEvent(compCtx, ev)

		case root := <-s.red.RescanRequests():
			s.logger.Info("supervisor: re-scan requested", slog.String("root", root))
			if root == "" {
				s.startScan(compCtx, s.allRoots(), true)
			} else {
				s.startScan(compCtx, []string{root}, false)
			}
			s.setState(StateReindexing)

		case cfg := <-s.cfgWatch.Updates():
			s.onConfigChange(compCtx, cfg)

		case res := <-s.scanDone:
			s.onScanDone(res)

		case ev, ok := <-ctlEvents:
			if !ok {
				ctlEvents = nil
				continue
			}
			if ev.Name == paths.ReindexRequestPath() &&
				ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				_ = os.Remove(ev.Name)
				s.logger.Info("supervisor: reindex requested")
				s.setState(StateReindexing)
				s.startScan(compCtx, s.allRoots(), true)
			}

		case ctlErr, ok := <-ctl.Errors:
			if !ok {
				continue
			}
			s.logger.Warn("supervisor: control watch error", slog.String("error", ctlErr.Error()))

		case <-hb.C:
			s.publish()
		}
	}
}

// onEvent translates one watcher event into reducer submissions.
func (s *supervisor) onEvent(ctx context.Context, ev models.Event) {
	switch ev.Kind {
	case models.EventCreated, models.EventModified:
		op, ok := scanner.StatOp(ev.Path, s.appRoots)
		if !ok {
			return
		}
		if err := s.red.Submit(ctx, op); err != nil {
			return
		}

	case models.EventDeleted:
		if err := s.red.Submit(ctx, models.DeleteOp(ev.Path)); err != nil {
			return
		}

	case models.EventOverflow:
		s.logger.Warn("supervisor: event overflow, scheduling re-scan")
		if err := s.red.Overflow(ctx, ev.Root); err != nil {
			return
		}
		s.setState(StateReindexing)
	}
}

// onConfigChange applies a new snapshot: re-watch and scan added roots,
// drop and vacuum removed ones, re-classify on pattern changes.
func (s *supervisor) onConfigChange(ctx context.Context, cfg *Config) {
	diff := DiffConfigs(s.cfg, cfg)
	s.cfg = cfg
	if diff.Empty() {
		return
	}

	s.logger.Info("supervisor: config changed",
		slog.Int("added_roots", len(diff.AddedRoots)),
		slog.Int("removed_roots", len(diff.RemovedRoots)),
		slog.Bool("patterns_changed", diff.PatternsChanged))

	roots, bad := cfg.ExpandedRoots()
	for p, err := range bad {
		s.logger.Warn("supervisor: include path ignored",
			slog.String("path", p), slog.String("error", err.Error()))
	}
	spec, specErrs := pathspec.New(roots, cfg.Indexing.ExcludePatterns, s.appRoots)
	for _, err := range specErrs {
		s.logger.Warn("supervisor: " + err.Error())
	}
	s.spec = spec
	s.wt.SetSpec(spec)

	for _, root := range diff.RemovedRoots {
		s.wt.DropRoot(root)
	}
	if len(diff.RemovedRoots) > 0 {
		if n, err := s.st.VacuumStale(s.allRoots()); err != nil {
			s.fail("vacuum stale", err)
		} else {
			s.logger.Info("supervisor: vacuumed stale rows", slog.Int64("rows", n))
		}
	}

	if len(diff.AddedRoots) > 0 {
		if errs := s.wt.WatchRoots(diff.AddedRoots); len(errs) > 0 {
			s.lastErr = errs[len(errs)-1].Error()
		}
	}

	if diff.PatternsChanged {
		s.reclassify()
		s.setState(StateReindexing)
		s.startScan(ctx, s.allRoots(), true)
		return
	}

	if len(diff.AddedRoots) > 0 {
		s.setState(StateReindexing)
		s.startScan(ctx, diff.AddedRoots, false)
	}
}

// reclassify deletes rows that fail the new inclusion policy. Newly
// included entries are picked up by the scan the caller schedules.
func (s *supervisor) reclassify() {
	all, err := s.st.AllPaths()
	if err != nil {
		s.fail("re-classify", err)
		return
	}
	var gone []string
	for _, p := range all {
		if !s.spec.Included(p) {
			gone = append(gone, p)
		}
	}
	if err := s.st.DeletePaths(gone); err != nil {
		s.fail("re-classify delete", err)
		return
	}
	s.logger.Info("supervisor: re-classified index", slog.Int("removed", len(gone)))
}

// startScan launches a scan over roots on its own goroutine. full marks
// a scan covering the whole root set, which stamps last_full_scan.
func (s *supervisor) startScan(ctx context.Context, roots []string, full bool) {
	s.scansActive++
	sc := scanner.New(s.spec, s.appRoots, s.cfg.Performance.MaxCPUPercent, s.logger)
	go func() {
		err := sc.ScanAll(ctx, roots, func(ctx context.Context, op models.Op) error {
			return s.red.Submit(ctx, op)
		})
		if err == nil {
			err = s.red.Flush(ctx)
		}
		select {
		case s.scanDone <- scanResult{full: full, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *supervisor) onScanDone(res scanResult) {
	s.scansActive--
	if res.err != nil && res.err != context.Canceled {
		s.fail("scan", res.err)
	}
	if s.scansActive > 0 {
		return
	}
	s.lastScan = time.Now()
	if res.full && res.err == nil {
		if err := s.st.StampFullScan(s.lastScan); err != nil {
			s.fail("stamp full scan", err)
		}
	}
	s.setState(StateSteady)
}

// drain flushes the coalescer within the grace period, then reports the
// daemon stopped. Batches still pending past the deadline are abandoned;
// the next start re-derives them by scanning.
func (s *supervisor) drain() error {
	s.setState(StateDraining)

	flushCtx, cancel := context.WithTimeout(context.Background(), drainGrace)
	defer cancel()
	if err := s.red.Flush(flushCtx); err != nil {
		s.logger.Warn("supervisor: drain flush incomplete", slog.String("error", err.Error()))
	}

	s.setState(StateStopped)
	return nil
}

func (s *supervisor) fail(what string, err error) {
	s.lastErr = err.Error()
	s.logger.Error("supervisor: "+what+" failed", slog.String("error", err.Error()))
	s.publish()
}

func (s *supervisor) setState(state string) {
	if s.state != state {
		s.logger.Info("supervisor: state changed",
			slog.String("from", s.state), slog.String("to", state))
	}
	s.state = state
	s.publish()
}

// publish rewrites the status snapshot.
func (s *supervisor) publish() {
	count, err := s.st.CountFiles()
	if err != nil {
		count = -1
	}
	st := statusfile.Status{
		State:        s.state,
		FilesIndexed: count,
		Roots:        s.allRoots(),
		LastScan:     s.lastScan,
		PendingOps:   s.red.PendingDepth(),
		LastError:    s.lastErr,
	}
	if err := statusfile.Write(paths.StatusPath(), st); err != nil {
		s.logger.Warn("supervisor: status write failed", slog.String("error", err.Error()))
	}
}
