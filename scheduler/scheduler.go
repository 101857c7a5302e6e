// Package scheduler implements the bounded priority worker pool spec §4.2
// describes: work items drain in priority order (ties FIFO), exceptions
// never kill a worker, and cancellation on shutdown is cooperative.
//
// Grounded on pulse/async/worker.go's WorkerPool: context-derived
// cancellation, a fixed worker count, and a logger that never lets a
// single failing job take down the pool. Generalized here from a
// SQL-backed job queue to an in-memory priority queue since the core has
// no persistence Non-goal to serve (spec §1).
package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/viewdeck/viewdeck/internal/logging"
	"github.com/viewdeck/viewdeck/viewerrors"
)

// Func is scheduled work. It receives a context that is cancelled when
// the scheduler stops, so long-running view/middleware bodies can
// observe ServerStop at their next suspension point (spec §5).
type Func func(ctx context.Context) (interface{}, error)

type workItem struct {
	fn     Func
	future *Future
}

// Future holds the eventual result of a Schedule call.
type Future struct {
	done  chan struct{}
	value interface{}
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(value interface{}, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done, whichever
// comes first.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Scheduler is a bounded worker pool with capacity MaxWorkers (spec
// §4.2 default 10).
type Scheduler struct {
	capacity int

	mu      sync.Mutex
	cond    *sync.Cond
	pq      priorityQueue
	seq     int64
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

// New builds a Scheduler with the given worker capacity and starts its
// workers immediately.
func New(capacity int) *Scheduler {
	if capacity <= 0 {
		capacity = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		capacity: capacity,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.Named("scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	heap.Init(&s.pq)

	for i := 0; i < capacity; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// Schedule enqueues fn at priority and returns a Future for its result.
// Equal priorities run in FIFO order (spec §4.2).
func (s *Scheduler) Schedule(fn Func, priority int) *Future {
	future := newFuture()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		future.complete(nil, viewerrors.ErrServerStop)
		return future
	}
	s.seq++
	heap.Push(&s.pq, &item{priority: priority, seq: s.seq, work: &workItem{fn: fn, future: future}})
	s.mu.Unlock()
	s.cond.Signal()

	return future
}

// RunSync runs fn on the calling goroutine, bypassing the pool
// entirely. Spec §4.4/§5: middleware invocation with sync=true,
// wait=true "is modeled as a synchronous call from the dispatch path;
// implementations must ensure it does not deadlock with the pool
// (reserve a distinct executor or run middlewares inline on the
// dispatcher)". Running inline is the simplest way to guarantee that:
// the dispatcher never waits on a pool slot it might itself be
// occupying.
func (s *Scheduler) RunSync(fn Func) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = viewerrors.Wrapf(viewerrors.ErrHandlerException, "panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Stop cancels the scheduler's context (every in-flight Func observes
// ctx.Done()), drains pending items with ErrServerStop, and waits for
// workers to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()

	for s.pq.Len() > 0 {
		it := heap.Pop(&s.pq).(*item)
		it.work.future.complete(nil, viewerrors.ErrServerStop)
	}
	s.mu.Unlock()
	s.cond.Broadcast()

	s.wg.Wait()
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		work, ok := s.next()
		if !ok {
			return
		}
		s.run(work)
	}
}

// next blocks until work is available or the scheduler stops.
func (s *Scheduler) next() (*workItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.pq.Len() == 0 && !s.stopped {
		s.cond.Wait()
	}
	if s.pq.Len() == 0 {
		return nil, false
	}
	it := heap.Pop(&s.pq).(*item)
	return it.work, true
}

func (s *Scheduler) run(work *workItem) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("recovered panic in scheduled work", "panic", r)
			work.future.complete(nil, viewerrors.Wrapf(viewerrors.ErrHandlerException, "panic: %v", r))
		}
	}()

	value, err := work.fn(s.ctx)
	work.future.complete(value, err)
}
