// Package scheduler drives the per-source refresh loop. Every enabled
// source gets its own ticker at the source's refresh interval; ticks hand
// the actual refresh work to a shared worker pool. A refresh that is still
// running when the next tick arrives is skipped, never queued, so a slow
// upstream cannot pile up concurrent refreshes of the same source.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"apex-live/work/logger"
	"apex-live/work/metrics"
	"apex-live/work/types"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// RefreshFunc performs one refresh of a source. It is supplied by the
// caller and is expected to do its own error logging; the scheduler only
// records the outcome.
type RefreshFunc func(ctx context.Context, src types.Source) error

// Scheduler owns one refresh loop per enabled source.
type Scheduler struct {
	refresh RefreshFunc
	pool    *ants.Pool
	loops   *xsync.MapOf[string, *sourceLoop]
}

// sourceLoop is the per-source ticker goroutine plus its in-flight guard.
// ctx covers every refresh the loop dispatches, ticker-driven and kicked
// alike, so Stop cancels them all.
type sourceLoop struct {
	src     types.Source
	ctx     context.Context
	running atomic.Bool
	cancel  context.CancelFunc
}

// New creates a scheduler backed by a worker pool of the given size.
func New(workers int, refresh RefreshFunc) (*Scheduler, error) {
	pool, err := ants.NewPool(workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		refresh: refresh,
		pool:    pool,
		loops:   xsync.NewMapOf[string, *sourceLoop](),
	}, nil
}

// Start begins the refresh loop for a source, replacing any existing loop
// for the same source id. Disabled sources are stopped instead.
func (s *Scheduler) Start(src types.Source) {
	s.Stop(src.ID)
	if !src.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &sourceLoop{src: src, ctx: ctx, cancel: cancel}
	s.loops.Store(src.ID, loop)

	go s.run(ctx, loop)
	logger.Debug("{scheduler - Start} started refresh loop for source %s every %s", src.ID, src.RefreshInterval())
}

// Stop cancels the refresh loop for a source if one exists.
func (s *Scheduler) Stop(id string) {
	if loop, ok := s.loops.LoadAndDelete(id); ok {
		loop.cancel()
		logger.Debug("{scheduler - Stop} stopped refresh loop for source %s", id)
	}
}

// Sync reconciles running loops against the given source list: sources not
// in the list are stopped, listed sources are (re)started with their
// current settings.
func (s *Scheduler) Sync(sources []types.Source) {
	keep := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		keep[src.ID] = struct{}{}
	}
	s.loops.Range(func(id string, _ *sourceLoop) bool {
		if _, ok := keep[id]; !ok {
			s.Stop(id)
		}
		return true
	})
	for _, src := range sources {
		s.Start(src)
	}
}

// Kick triggers an immediate refresh for a source outside its normal
// cadence, subject to the same in-flight skip. Returns false if the
// source has no loop or a refresh is already running.
func (s *Scheduler) Kick(id string) bool {
	loop, ok := s.loops.Load(id)
	if !ok {
		return false
	}
	return s.dispatch(loop.ctx, loop)
}

// Shutdown stops all loops and releases the worker pool.
func (s *Scheduler) Shutdown() {
	s.loops.Range(func(id string, _ *sourceLoop) bool {
		s.Stop(id)
		return true
	})
	s.pool.Release()
}

func (s *Scheduler) run(ctx context.Context, loop *sourceLoop) {
	// Fire once immediately so a newly added source has content before
	// its first full interval elapses.
	s.dispatch(ctx, loop)

	ticker := time.NewTicker(loop.src.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, loop)
		}
	}
}

// dispatch submits one refresh to the pool unless one is already in
// flight for this source.
func (s *Scheduler) dispatch(ctx context.Context, loop *sourceLoop) bool {
	if !loop.running.CompareAndSwap(false, true) {
		metrics.RefreshSkipped.WithLabelValues(loop.src.ID).Inc()
		logger.Debug("{scheduler - dispatch} refresh still running for source %s, skipping tick", loop.src.ID)
		return false
	}

	err := s.pool.Submit(func() {
		defer loop.running.Store(false)

		start := time.Now()
		if err := s.refresh(ctx, loop.src); err != nil {
			metrics.RefreshRuns.WithLabelValues(loop.src.ID, "error").Inc()
			logger.Warn("{scheduler - dispatch} refresh failed for source %s: %v", loop.src.ID, err)
			return
		}
		metrics.RefreshRuns.WithLabelValues(loop.src.ID, "ok").Inc()
		logger.Info("{scheduler - dispatch} refreshed source %s in %s", loop.src.ID, time.Since(start).Round(time.Millisecond))
	})
	if err != nil {
		loop.running.Store(false)
		metrics.RefreshRuns.WithLabelValues(loop.src.ID, "error").Inc()
		logger.Error("{scheduler - dispatch} could not submit refresh for source %s: %v", loop.src.ID, err)
		return false
	}
	return true
}
