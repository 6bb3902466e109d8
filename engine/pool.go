// Package engine runs query pipelines concurrently. Each worker drives one
// independent pipeline on its own cursor; the pipelines themselves stay
// single-threaded and pull-based.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thomazyujibaba/ibarrow"
)

// Common errors for pool operations.
var (
	ErrPoolClosed = errors.New("query pool is not running")
)

// QueryJob is one statement to execute. If Reply is set the result is
// delivered there; otherwise it goes to the pool's shared Results channel.
type QueryJob struct {
	ID          string
	SQL         string
	Args        []any
	Priority    int
	SubmittedAt time.Time
	Ctx         context.Context
	Reply       chan *QueryResult
}

// NewQueryJob creates a job with default values.
func NewQueryJob(id, sql string, args ...any) *QueryJob {
	return &QueryJob{
		ID:          id,
		SQL:         sql,
		Args:        args,
		SubmittedAt: time.Now(),
		Ctx:         context.Background(),
	}
}

// QueryResult is the outcome of one executed job: a complete Arrow IPC
// stream payload or an error, never a partial stream.
type QueryResult struct {
	JobID    string
	Payload  []byte
	Err      error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// QueryPool runs query jobs on a fixed set of workers, each executing the
// full fetch-convert-serialize pipeline through a shared Connection whose
// database handle pools the underlying driver connections.
type QueryPool struct {
	name    string
	workers int
	conn    *ibarrow.Connection
	queue   *JobQueue
	results chan *QueryResult
	cond    *sync.Cond
	wg      sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	running bool
	mu      sync.RWMutex
}

// NewQueryPool creates and starts a pool with the given number of workers
// and pending-queue capacity.
func NewQueryPool(name string, workers, queueSize int, conn *ibarrow.Connection) *QueryPool {
	if workers <= 0 {
		workers = 1
	}
	p := &QueryPool{
		name:    name,
		workers: workers,
		conn:    conn,
		queue:   NewJobQueue(queueSize),
		results: make(chan *QueryResult, workers*16),
		running: true,
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *QueryPool) worker(id int) {
	defer p.wg.Done()
	for {
		job := p.next()
		if job == nil {
			return
		}
		p.process(id, job)
	}
}

// next blocks until a job is queued or the pool shuts down.
func (p *QueryPool) next() *QueryJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if job := p.queue.Dequeue(); job != nil {
			return job
		}
		if !p.running {
			return nil
		}
		p.cond.Wait()
	}
}

func (p *QueryPool) process(workerID int, job *QueryJob) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := &QueryResult{JobID: job.ID, WorkerID: workerID}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("query job panicked: %v", r)
			}
		}()
		ctx := job.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		result.Payload, result.Err = p.conn.QueryIPC(ctx, job.SQL, job.Args...)
	}()

	result.Duration = time.Since(start)
	if result.Err != nil {
		atomic.AddInt64(&p.failed, 1)
	} else {
		atomic.AddInt64(&p.completed, 1)
	}
	p.deliver(job, result)
}

func (p *QueryPool) deliver(job *QueryJob, result *QueryResult) {
	if job.Reply != nil {
		job.Reply <- result
		return
	}
	select {
	case p.results <- result:
	default:
		// Consumer is not draining; drop rather than block the worker.
	}
}

// Submit queues a job for execution. Returns ErrPoolClosed after Shutdown
// and ErrQueueFull when the pending queue is at capacity.
func (p *QueryPool) Submit(job *QueryJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrPoolClosed
	}
	if err := p.queue.Enqueue(job); err != nil {
		return err
	}
	p.cond.Signal()
	return nil
}

// Do queues a job and blocks until its result arrives or ctx is done.
func (p *QueryPool) Do(ctx context.Context, job *QueryJob) (*QueryResult, error) {
	job.Reply = make(chan *QueryResult, 1)
	if job.Ctx == nil {
		job.Ctx = ctx
	}
	if err := p.Submit(job); err != nil {
		return nil, err
	}
	select {
	case result := <-job.Reply:
		return result, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.queue.Remove(job.ID)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Results returns the shared result channel for jobs without a Reply.
func (p *QueryPool) Results() <-chan *QueryResult {
	return p.results
}

// Stats returns a snapshot of pool statistics.
func (p *QueryPool) Stats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed
	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     p.queue.Len(),
		SuccessRate: rate,
	}
}

// IsRunning reports whether the pool accepts new jobs.
func (p *QueryPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Shutdown stops accepting jobs, waits for in-flight queries to finish,
// and closes the results channel. Pending queued jobs are discarded.
func (p *QueryPool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.queue.Clear()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
}
