// Package pool bounds concurrent agent execution. Two modes: in-process,
// where agents run on goroutines gated by a weighted semaphore, and forked,
// where each task gets an isolated worker process speaking JSON-framed line
// IPC over stdin/stdout.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"cortexos/internal/agent"
	"cortexos/internal/config"
	"cortexos/internal/errs"
	"cortexos/internal/logging"
)

// Runner executes one task in-process. The swarm coordinator supplies a
// runner that builds a role agent per task.
type Runner func(ctx context.Context, task agent.Task) agent.Result

// Config assembles a pool.
type Config struct {
	Mode        string // "inprocess" or "forked"
	MaxWorkers  int
	TaskTimeout time.Duration
	Runner      Runner            // in-process mode
	Provider    config.LLMConfig  // forked mode: passed to workers
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Mode       string `json:"mode"`
	MaxWorkers int    `json:"max_workers"`
	Active     int    `json:"active"`
	Submitted  int    `json:"submitted"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}

// Pool schedules agent tasks with bounded concurrency.
type Pool struct {
	cfg Config
	sem *semaphore.Weighted

	mu        sync.Mutex
	active    int
	submitted int
	completed int
	failed    int
	closed    bool

	// cancel tears down in-flight work on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool. MaxWorkers defaults to 4, TaskTimeout to 120s.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 120 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = "inprocess"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit runs one task, blocking until a worker slot frees up. Returns an
// error only for pool-level failures (shutdown, cancellation); task failures
// are reported inside the Result.
func (p *Pool) Submit(ctx context.Context, task agent.Task) (agent.Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return agent.Result{}, errs.New(errs.KindCancel, "pool is shut down")
	}
	p.submitted++
	p.mu.Unlock()

	// Waiters acquire in FIFO order.
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.recordDone(false)
		return agent.Result{}, errs.Wrap(errs.KindCancel, err, "submit cancelled while queued")
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.recordDone(false)
		return agent.Result{}, errs.New(errs.KindCancel, "pool is shut down")
	}
	p.active++
	p.mu.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	logging.PoolDebug("task %s starting (mode=%s)", task.ID, p.cfg.Mode)
	var result agent.Result
	if p.cfg.Mode == "forked" {
		result = p.runForked(taskCtx, task)
	} else {
		result = p.runInProcess(taskCtx, task)
	}

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.recordDone(result.Success)
	return result, nil
}

func (p *Pool) runInProcess(ctx context.Context, task agent.Task) agent.Result {
	done := make(chan agent.Result, 1)
	go func() {
		done <- p.cfg.Runner(ctx, task)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		err := &errs.Error{Kind: errs.KindTimeout, TaskID: task.ID,
			Msg: "task timed out or was cancelled"}
		if ctx.Err() == context.Canceled {
			err.Kind = errs.KindCancel
		}
		return agent.Result{TaskID: task.ID, Error: err.Error()}
	}
}

// SubmitBatch runs tasks in parallel and returns every result in task order.
// Pool-level submit errors are folded into failed results so callers always
// get one result per task.
func (p *Pool) SubmitBatch(ctx context.Context, tasks []agent.Task) []agent.Result {
	results := make([]agent.Result, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task agent.Task) {
			defer wg.Done()
			result, err := p.Submit(ctx, task)
			if err != nil {
				result = agent.Result{TaskID: task.ID, Error: err.Error()}
			}
			results[i] = result
		}(i, task)
	}
	wg.Wait()
	return results
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Mode:       p.cfg.Mode,
		MaxWorkers: p.cfg.MaxWorkers,
		Active:     p.active,
		Submitted:  p.submitted,
		Completed:  p.completed,
		Failed:     p.failed,
	}
}

// Shutdown rejects new submissions and cancels in-flight work. Forked
// workers receive TERM through context cancellation killing the process.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	logging.PoolDebug("pool shutting down")
	p.cancel()
}

func (p *Pool) recordDone(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.completed++
	} else {
		p.failed++
	}
}
