package engine

import (
	"context"
	"sync"
)

// runLoop executes engine bookkeeping jobs on a single goroutine. Live
// frames, fetch completions, and caller operations arrive on arbitrary
// goroutines; funneling every mutation through one queue means a history
// merge and a conversation switch can never interleave into a corrupted
// intermediate state.
//
// The loop is tied to the engine lifecycle: Stop closes it, the goroutine
// exits, and later jobs are rejected with ErrNotStarted.
type runLoop struct {
	jobs chan func()
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

func newRunLoop(queueSize int) *runLoop {
	if queueSize <= 0 {
		queueSize = 256
	}
	l := &runLoop{
		jobs: make(chan func(), queueSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *runLoop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case job := <-l.jobs:
			job()
		}
	}
}

// submit enqueues a fire-and-forget job.
func (l *runLoop) submit(job func()) error {
	if job == nil {
		return nil
	}
	select {
	case <-l.quit:
		return ErrNotStarted
	default:
	}
	select {
	case l.jobs <- job:
		return nil
	case <-l.quit:
		return ErrNotStarted
	}
}

type jobResult struct {
	value any
	err   error
}

// call runs fn on the loop and blocks for its result. A cancelled ctx or a
// closed loop unblocks the caller early; in the cancellation case fn may
// still run later, so its effects must stay safe without the caller.
func (l *runLoop) call(ctx context.Context, fn func() (any, error)) (any, error) {
	res := make(chan jobResult, 1)
	if err := l.submit(func() {
		value, err := fn()
		res <- jobResult{value: value, err: err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-res:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.quit:
		return nil, ErrNotStarted
	}
}

// close stops the loop after the job in flight, drops anything still queued,
// and waits for the goroutine to exit. Safe to call more than once; must not
// be called from a job.
func (l *runLoop) close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
}
