// Package dashboard runs every configured source concurrently and merges
// their results into progressively published, immutable snapshots.
package dashboard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/core/cache"
	"github.com/crmpulse/crmpulse/internal/core/retry"
	"github.com/crmpulse/crmpulse/internal/metrics"
)

// ErrNotTriggered is returned by Refresh before the first Trigger.
var ErrNotTriggered = errors.New("dashboard has not been triggered")

// ErrClosed is returned by operations on a closed aggregator.
var ErrClosed = errors.New("dashboard aggregator is closed")

// Source is one resolvable dataset. *source.Fetcher satisfies it.
type Source interface {
	SourceName() string
	CacheKey(params core.Params) string
	Resolve(ctx context.Context, params core.Params) core.SourceResult[any]
	EmptyValue() any
	RetryGate() *retry.Gate
}

// Options configures an Aggregator.
type Options struct {
	Sources []Source
	// Cache is used by Refresh to drop the current entries.
	Cache  *cache.ResultCache
	Clock  func() time.Time
	Logger core.Logger
}

type attempt struct {
	cancel context.CancelFunc
}

// Aggregator orchestrates sources and publishes snapshots in total order.
type Aggregator struct {
	sources []Source
	cache   *cache.ResultCache
	clock   func() time.Time
	logger  core.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	generation uint64
	sequence   uint64
	params     *core.Params
	genCtx     context.Context
	genCancel  context.CancelFunc
	inflight   map[string]*attempt
	views      map[string]SourceView
	settled    chan struct{}
	lastState  State
	current    atomic.Pointer[Snapshot]

	queueMu sync.Mutex
	queue   []*Snapshot
	subs    map[uint64]func(*Snapshot)
	nextSub uint64
	stopped bool
	signal  chan struct{}
	done    chan struct{}
	stop    sync.Once
}

// New creates an aggregator and starts its dispatcher. Call Close to stop it.
func New(opts Options) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		sources:    append([]Source(nil), opts.Sources...),
		cache:      opts.Cache,
		clock:      opts.Clock,
		logger:     core.LoggerOrNop(opts.Logger),
		rootCtx:    ctx,
		rootCancel: cancel,
		inflight:   map[string]*attempt{},
		views:      map[string]SourceView{},
		lastState:  StateIdle,
		subs:       map[uint64]func(*Snapshot){},
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	a.resetViewsLocked()
	a.current.Store(a.buildSnapshotLocked(StateIdle))
	go a.dispatch()
	return a
}

// Sources returns the configured sources in display order.
func (a *Aggregator) Sources() []Source {
	return append([]Source(nil), a.sources...)
}

// Snapshot returns the latest published snapshot. It never returns nil.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.current.Load()
}

// Subscribe registers fn to receive every snapshot published from now on,
// in sequence order. fn runs on the dispatcher goroutine and may call back
// into the aggregator.
func (a *Aggregator) Subscribe(fn func(*Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	a.queueMu.Lock()
	a.nextSub++
	id := a.nextSub
	a.subs[id] = fn
	a.queueMu.Unlock()

	return func() {
		a.queueMu.Lock()
		delete(a.subs, id)
		a.queueMu.Unlock()
	}
}

// Trigger starts a fetch cycle for params. A change of params cancels the
// previous cycle and starts from an empty snapshot; the same params while a
// source is still in flight leave that source alone.
func (a *Aggregator) Trigger(params core.Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.triggerLocked(params, false)
}

// Ensure triggers only when params differ from the current cycle's, so
// repeated reads of the same period reuse the snapshot.
func (a *Aggregator) Ensure(params core.Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.params != nil && a.params.Key() == params.Key() {
		return
	}
	a.triggerLocked(params, false)
}

// Refresh drops the cached entries of the current params and refetches
// every source, superseding in-flight calls. Retry gates are left as they
// are: a blocked source keeps serving its fallbacks.
func (a *Aggregator) Refresh(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.params == nil {
		a.mu.Unlock()
		return ErrNotTriggered
	}
	params := *a.params
	generation := a.generation
	a.mu.Unlock()

	removeErr := a.dropCached(ctx, params)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.generation != generation {
		// params changed meanwhile; the new cycle already fetches
		return removeErr
	}
	a.logger.Info("Dashboard refresh requested", zap.String("params", params.Key()))
	a.triggerLocked(params, true)
	return removeErr
}

// RefreshPeriod drops the cached entries of params before starting their
// cycle, so no call is launched only to be superseded. It is Trigger for a
// caller that wants fresh data from the first request.
func (a *Aggregator) RefreshPeriod(ctx context.Context, params core.Params) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	removeErr := a.dropCached(ctx, params)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.logger.Info("Dashboard refresh requested", zap.String("params", params.Key()))
	a.triggerLocked(params, true)
	return removeErr
}

func (a *Aggregator) dropCached(ctx context.Context, params core.Params) error {
	if a.cache == nil {
		return nil
	}
	var removeErr error
	for _, src := range a.sources {
		if err := a.cache.Remove(ctx, src.CacheKey(params)); err != nil {
			a.logger.Warn("Failed to drop cache entry on refresh",
				zap.String("source", src.SourceName()),
				zap.Error(err))
			removeErr = errors.Join(removeErr, err)
		}
	}
	return removeErr
}

// Wait blocks until every source of the current cycle has settled, the
// cycle is superseded, or ctx ends.
func (a *Aggregator) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	ch := a.settled
	a.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every in-flight fetch and stops publishing. Results that
// arrive afterwards are discarded.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		a.rootCancel()
		a.inflight = map[string]*attempt{}
		a.closeSettledLocked()
	}
	a.mu.Unlock()

	a.stop.Do(func() {
		a.queueMu.Lock()
		a.stopped = true
		a.queue = nil
		a.queueMu.Unlock()
		close(a.done)
	})
}

func (a *Aggregator) triggerLocked(params core.Params, force bool) {
	if a.closed {
		return
	}

	if a.params == nil || a.params.Key() != params.Key() {
		if a.genCancel != nil {
			a.genCancel()
		}
		a.generation++
		a.genCtx, a.genCancel = context.WithCancel(a.rootCtx)
		p := params
		a.params = &p
		a.inflight = map[string]*attempt{}
		a.closeSettledLocked()
		a.resetViewsLocked()
		a.logger.Debug("Dashboard parameters changed",
			zap.Uint64("generation", a.generation),
			zap.String("params", params.Key()))
	}

	launched := 0
	for _, src := range a.sources {
		name := src.SourceName()
		if current, ok := a.inflight[name]; ok {
			if !force {
				continue
			}
			current.cancel()
		}

		if len(a.inflight) == 0 && (a.settled == nil || isClosed(a.settled)) {
			a.settled = make(chan struct{})
		}

		ctx, cancel := context.WithCancel(a.genCtx)
		att := &attempt{cancel: cancel}
		a.inflight[name] = att

		view := a.views[name]
		view.Loading = true
		a.views[name] = view

		launched++
		go a.run(ctx, src, *a.params, a.generation, att)
	}

	metrics.SetSourcesInFlight(len(a.inflight))
	if launched > 0 {
		a.publishLocked()
	}
}

func (a *Aggregator) run(ctx context.Context, src Source, params core.Params, generation uint64, att *attempt) {
	result := src.Resolve(ctx, params)
	a.settle(src, generation, att, result)
}

func (a *Aggregator) settle(src Source, generation uint64, att *attempt, result core.SourceResult[any]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer att.cancel()

	name := src.SourceName()
	if a.closed || generation != a.generation || a.inflight[name] != att {
		a.logger.Debug("Discarding superseded source result",
			zap.String("source", name),
			zap.String("status", string(result.Status)))
		return
	}
	delete(a.inflight, name)
	metrics.SetSourcesInFlight(len(a.inflight))

	a.views[name] = mergeView(a.views[name], result, src.EmptyValue(), a.now())
	a.publishLocked()
	if len(a.inflight) == 0 {
		a.closeSettledLocked()
	}
}

func (a *Aggregator) publishLocked() {
	views := a.orderedViewsLocked()
	state := overallState(views, a.params != nil)
	snap := a.buildSnapshotLocked(state)
	a.current.Store(snap)
	metrics.RecordSnapshotPublish(string(state))

	if state == StateError && a.lastState != StateError {
		fields := []zap.Field{zap.Uint64("generation", snap.Generation)}
		for _, view := range views {
			fields = append(fields, zap.String(view.Name, string(view.ErrorKind)))
		}
		a.logger.Error("Every dashboard source failed", fields...)
	}
	a.lastState = state

	a.queueMu.Lock()
	if !a.stopped {
		a.queue = append(a.queue, snap)
	}
	a.queueMu.Unlock()

	select {
	case a.signal <- struct{}{}:
	default:
	}
}

func (a *Aggregator) buildSnapshotLocked(state State) *Snapshot {
	a.sequence++
	views := a.orderedViewsLocked()
	now := a.now()

	snap := &Snapshot{
		ID:          uuid.NewString(),
		Sequence:    a.sequence,
		Generation:  a.generation,
		State:       state,
		Sources:     views,
		PublishedAt: now,
	}
	if a.params != nil {
		p := *a.params
		snap.Params = &p
	}
	snap.Dashboard = buildDashboard(views)
	params := core.Params{}
	if snap.Params != nil {
		params = *snap.Params
	}
	snap.Stats = Derive(snap.Dashboard, params, now)
	return snap
}

func (a *Aggregator) dispatch() {
	for {
		select {
		case <-a.done:
			return
		case <-a.signal:
		}

		for {
			a.queueMu.Lock()
			if a.stopped || len(a.queue) == 0 {
				a.queueMu.Unlock()
				break
			}
			snap := a.queue[0]
			a.queue[0] = nil
			a.queue = a.queue[1:]
			subs := a.subscribersLocked()
			a.queueMu.Unlock()

			for _, fn := range subs {
				fn(snap)
			}
		}
	}
}

func (a *Aggregator) subscribersLocked() []func(*Snapshot) {
	ids := make([]uint64, 0, len(a.subs))
	for id := range a.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]func(*Snapshot), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, a.subs[id])
	}
	return subs
}

func (a *Aggregator) resetViewsLocked() {
	a.views = make(map[string]SourceView, len(a.sources))
	for _, src := range a.sources {
		a.views[src.SourceName()] = SourceView{Name: src.SourceName(), Status: core.StatusIdle}
	}
}

func (a *Aggregator) orderedViewsLocked() []SourceView {
	views := make([]SourceView, 0, len(a.sources))
	for _, src := range a.sources {
		views = append(views, a.views[src.SourceName()])
	}
	return views
}

func (a *Aggregator) closeSettledLocked() {
	if a.settled != nil && !isClosed(a.settled) {
		close(a.settled)
	}
}

func (a *Aggregator) now() time.Time {
	if a.clock != nil {
		return a.clock()
	}
	return time.Now().UTC()
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
