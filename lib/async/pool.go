// Package async provides a bounded worker pool executing task descriptors
// with per-attempt timeouts and exponential-backoff retries.
package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/observability"
)

// Task describes a unit of background work. Retry and timeout behaviour are
// properties of the descriptor, not of the handler.
type Task struct {
	// ID deduplicates submissions: while a task with this ID is queued or
	// running, further submissions with the same ID are dropped. Empty IDs
	// are never deduplicated.
	ID string
	// MaxAttempts bounds executions of Run; zero or less means one attempt.
	MaxAttempts int
	// Timeout bounds each attempt; zero means no per-attempt timeout.
	Timeout time.Duration
	// Run executes the task. A nil error completes the task; any error
	// triggers a retry until attempts are exhausted.
	Run func(ctx context.Context) error
}

// Pool is a bounded worker pool enforcing backpressure when saturated.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan Task
	wg     sync.WaitGroup
	once   sync.Once

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.KindInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := new(Pool)
	p.ctx = ctx
	p.cancel = cancel
	p.jobs = make(chan Task, queue)
	p.inflight = make(map[string]struct{})
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task respecting pool backpressure. Submitting a task
// whose ID is already queued or running is a no-op, which keeps enrichment
// serialized per transaction without a lock around the handler.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task.Run == nil {
		return errs.New("lib/async", errs.KindInvalid, errs.WithMessage("task run func must not be nil"))
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("submit context: %w", err)
		}
	}
	// The send happens under the mutex so Close cannot slam the channel shut
	// between the closed check and the send.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.New("lib/async", errs.KindUnavailable, errs.WithMessage("pool closed"))
	}
	if task.ID != "" {
		if _, dup := p.inflight[task.ID]; dup {
			return nil
		}
		p.inflight[task.ID] = struct{}{}
	}
	p.wg.Add(1)
	select {
	case p.jobs <- task:
		return nil
	default:
		if task.ID != "" {
			delete(p.inflight, task.ID)
		}
		p.wg.Done()
		return errs.New("lib/async", errs.KindUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks and cancels running attempts. Tasks already
// queued are still handed to workers, observing the cancelled context.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.cancel()
	})
}

// Shutdown waits for in-flight tasks to complete or until the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) release(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

func (p *Pool) worker() {
	for task := range p.jobs {
		p.runTask(task)
		p.release(task.ID)
		p.wg.Done()
	}
}

func (p *Pool) runTask(task Task) {
	attempts := task.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	schedule := backoff.NewExponentialBackOff()

	for attempt := 1; attempt <= attempts; attempt++ {
		err := p.runAttempt(task)
		if err == nil {
			return
		}
		observability.Log().Warn("task attempt failed",
			observability.F("task", task.ID),
			observability.F("attempt", attempt),
			observability.F("max_attempts", attempts),
			observability.F("error", err.Error()))
		if attempt == attempts {
			observability.Log().Error("task exhausted retries",
				observability.F("task", task.ID),
				observability.F("error", err.Error()))
			return
		}
		sleep := schedule.NextBackOff()
		if sleep == backoff.Stop {
			sleep = time.Second
		}
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (p *Pool) runAttempt(task Task) (err error) {
	ctx := p.ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
