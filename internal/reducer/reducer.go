// Package reducer owns the pending-operation map that sits between the
// event sources and the store. It is the single place where filesystem
// events collapse into net index mutations.
package reducer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/novik133/novasearch/internal/models"
)

// Applier is the store-side contract the reducer drives.
type Applier interface {
	ApplyBatch(ops []models.Op) error
}

// pendingEntry tracks the collapsed operation for one path and when the
// first contributing event arrived, for age-based flushing.
type pendingEntry struct {
	op      models.Op
	firstAt time.Time
}

type ctrlKind int

const (
	ctrlFlush ctrlKind = iota
	ctrlOverflow
)

type ctrlMsg struct {
	kind ctrlKind
	root string
	done chan struct{}
}

// Reducer coalesces operations and drives store transactions. All map
// access happens on the Run goroutine; Submit and control calls
// communicate over channels.
type Reducer struct {
	store         Applier
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	ops  chan models.Op
	ctrl chan ctrlMsg

	pending map[string]pendingEntry
	retry   []models.Op // failed batch awaiting one retry

	depth   atomic.Int64
	rescans chan string
}

// New builds a reducer flushing at batchSize or flushInterval, whichever
// trips first.
func New(store Applier, batchSize int, flushInterval time.Duration, logger *slog.Logger) *Reducer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Reducer{
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		ops:           make(chan models.Op, batchSize*4),
		ctrl:          make(chan ctrlMsg),
		pending:       make(map[string]pendingEntry),
		rescans:       make(chan string, 8),
	}
}

// Submit hands one operation to the reducer, blocking when the input
// channel is full (backpressure toward the producer).
func (r *Reducer) Submit(ctx context.Context, op models.Op) error {
	select {
	case r.ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces a synchronous drain of the pending map. Used at shutdown
// and at scan-completion boundaries.
func (r *Reducer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case r.ctrl <- ctrlMsg{kind: ctrlFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Overflow discards all pending state, including a batch awaiting retry
// (the kernel already lost events, so pending deltas are untrustworthy),
// and requests a re-scan of root. Writes already handed to the store
// complete normally.
func (r *Reducer) Overflow(ctx context.Context, root string) error {
	select {
	case r.ctrl <- ctrlMsg{kind: ctrlOverflow, root: root}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RescanRequests delivers roots whose pending state was discarded by an
// overflow; the supervisor schedules a scan for each.
func (r *Reducer) RescanRequests() <-chan string { return r.rescans }

// PendingDepth reports the current pending-map size, for status.
func (r *Reducer) PendingDepth() int64 { return r.depth.Load() }

// Run processes submissions until ctx is cancelled, then performs a
// final flush attempt before returning.
func (r *Reducer) Run(ctx context.Context) error {
	tick := r.flushInterval / 4
	if tick < 25*time.Millisecond {
		tick = 25 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush()
			r.logger.Info("reducer: stopped")
			return nil

		case op := <-r.ops:
			r.collapse(op)
			if len(r.pending) >= r.batchSize {
				r.flush()
			}

		case <-ticker.C:
			if r.oldestPendingAge() >= r.flushInterval || len(r.retry) > 0 {
				r.flush()
			}

		case msg := <-r.ctrl:
			switch msg.kind {
			case ctrlFlush:
				r.drainSubmitted()
				r.flush()
				close(msg.done)
			case ctrlOverflow:
				r.clearPending()
				select {
				case r.rescans <- msg.root:
				default:
					r.logger.Warn("reducer: rescan request dropped, request queue full",
						slog.String("root", msg.root))
				}
			}
		}
	}
}

// collapse folds op into the pending map per the event-collapse rules:
// the newest operation at a path wins, and a rename becomes a delete of
// the old path plus an upsert of the new one.
func (r *Reducer) collapse(op models.Op) {
	switch op.Kind {
	case models.OpRename:
		r.set(op.OldPath, models.DeleteOp(op.OldPath))
		up := models.UpsertOp(op.Record, op.Desktop)
		r.set(op.Path, up)
	default:
		r.set(op.Path, op)
	}
	r.depth.Store(int64(len(r.pending)))
}

func (r *Reducer) set(path string, op models.Op) {
	firstAt := time.Now()
	if prev, ok := r.pending[path]; ok {
		firstAt = prev.firstAt
	}
	r.pending[path] = pendingEntry{op: op, firstAt: firstAt}
}

// drainSubmitted pulls everything already queued on the input channel
// into the pending map so an explicit flush observes it.
func (r *Reducer) drainSubmitted() {
	for {
		select {
		case op := <-r.ops:
			r.collapse(op)
		default:
			return
		}
	}
}

func (r *Reducer) oldestPendingAge() time.Duration {
	var oldest time.Time
	for _, e := range r.pending {
		if oldest.IsZero() || e.firstAt.Before(oldest) {
			oldest = e.firstAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return time.Since(oldest)
}

// flush drains the pending map into apply_batch calls of at most
// batchSize operations, deletes ordered before upserts. A failed batch
// is kept for exactly one retry on the next tick; a second failure drops
// it (the operations will be re-derived by the watcher or a scan).
func (r *Reducer) flush() {
	if len(r.retry) > 0 {
		batch := r.retry
		r.retry = nil
		if err := r.store.ApplyBatch(batch); err != nil {
			r.logger.Error("reducer: batch dropped after retry",
				slog.Int("ops", len(batch)), slog.String("error", err.Error()))
		}
	}

	for len(r.pending) > 0 {
		batch := r.snapshot()
		if err := r.store.ApplyBatch(batch); err != nil {
			r.logger.Warn("reducer: batch failed, will retry",
				slog.Int("ops", len(batch)), slog.String("error", err.Error()))
			r.retry = batch
			break
		}
	}
	r.depth.Store(int64(len(r.pending)))
}

// snapshot removes up to batchSize entries from pending and orders them
// deletes-first. Entries removed here that fail to commit re-enter via
// the retry slot; a newer event arriving meanwhile wins because retry
// replays before pending and the later upsert overwrites it.
func (r *Reducer) snapshot() []models.Op {
	deletes := make([]models.Op, 0, len(r.pending))
	upserts := make([]models.Op, 0, len(r.pending))
	n := 0
	for path, e := range r.pending {
		if n >= r.batchSize {
			break
		}
		n++
		delete(r.pending, path)
		if e.op.Kind == models.OpDelete {
			deletes = append(deletes, e.op)
		} else {
			upserts = append(upserts, e.op)
		}
	}
	return append(deletes, upserts...)
}

func (r *Reducer) clearPending() {
	r.pending = make(map[string]pendingEntry)
	r.retry = nil
	r.depth.Store(0)
}
