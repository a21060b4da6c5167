// Package workerpool provides a bounded pool for CPU-heavy node execution,
// separate from the pipeline's scheduling goroutines, so one heavy
// computation cannot starve I/O-bound pipeline progress. Every task runs
// under a mandatory timeout.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/errors"
)

// Task is one unit of CPU-heavy work. Implementations should honor ctx, but
// the pool enforces the deadline even when they do not.
type Task func(ctx context.Context) (map[string]interface{}, error)

// Config configures the pool.
type Config struct {
	// Workers is the fixed worker count. Defaults to runtime.NumCPU().
	Workers int
	// TaskTimeout bounds each task. Non-positive values fall back to the
	// 30s default; there is no unlimited option.
	TaskTimeout time.Duration
	// QueueSize is the pending-task buffer. Defaults to 64.
	QueueSize int
}

// Validate applies defaults in place.
func (c *Config) Validate() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

type job struct {
	ctx    context.Context
	nodeID string
	task   Task
	result chan jobResult
}

type jobResult struct {
	outputs map[string]interface{}
	err     error
}

// Pool runs tasks on a fixed set of workers.
type Pool struct {
	config Config
	jobs   chan job
	wg     sync.WaitGroup
	logger *zap.Logger

	processed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64

	closeOnce sync.Once
}

// New creates and starts a pool. Close releases the workers.
func New(config Config, logger *zap.Logger) *Pool {
	config.Validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		config: config,
		jobs:   make(chan job, config.QueueSize),
		logger: logger,
	}
	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		j.result <- p.run(j)
	}
	p.logger.Debug("compute worker stopped", zap.Int("worker_id", id))
}

// run executes one task under the pool's timeout. A task that outlives its
// deadline is abandoned to finish on its own goroutine; its result is
// discarded.
func (p *Pool) run(j job) jobResult {
	ctx, cancel := context.WithTimeout(j.ctx, p.config.TaskTimeout)
	defer cancel()

	done := make(chan jobResult, 1)
	go func() {
		outputs, err := j.task(ctx)
		done <- jobResult{outputs: outputs, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			p.failed.Add(1)
		} else {
			p.processed.Add(1)
		}
		return res
	case <-ctx.Done():
		if j.ctx.Err() != nil {
			return jobResult{err: j.ctx.Err()}
		}
		p.timedOut.Add(1)
		p.logger.Warn("compute task exceeded timeout",
			zap.String("node_id", j.nodeID),
			zap.Duration("timeout", p.config.TaskTimeout))
		return jobResult{err: &errors.ComputeTimeoutError{
			NodeID:  j.nodeID,
			Timeout: p.config.TaskTimeout.String(),
		}}
	}
}

// Execute submits a task and waits for its result. It returns the task's
// outputs, a ComputeTimeoutError if the deadline elapsed, or ctx's error if
// the caller was cancelled while queued.
func (p *Pool) Execute(ctx context.Context, nodeID string, task Task) (map[string]interface{}, error) {
	j := job{ctx: ctx, nodeID: nodeID, task: task, result: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-j.result:
		return res.outputs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns processed, failed and timed-out task counts.
func (p *Pool) Stats() (processed, failed, timedOut int64) {
	return p.processed.Load(), p.failed.Load(), p.timedOut.Load()
}

// Close stops accepting tasks and waits for the workers to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

// String describes the pool for logs.
func (p *Pool) String() string {
	return fmt.Sprintf("workerpool(workers=%d timeout=%s)", p.config.Workers, p.config.TaskTimeout)
}
