package engine

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// Common errors for queue operations.
var (
	ErrQueueFull  = errors.New("job queue is full")
	ErrJobExists  = errors.New("job already queued")
	ErrInvalidJob = errors.New("invalid job")
)

// jobHeap implements heap.Interface ordering jobs by priority, then by
// submission time.
type jobHeap []*QueryJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	// Higher priority first, then earlier submission
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].SubmittedAt.Before(h[j].SubmittedAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*QueryJob))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Enqueued int64 `json:"enqueued"`
	Dequeued int64 `json:"dequeued"`
	Rejected int64 `json:"rejected"`
}

// JobQueue is a bounded, priority-ordered queue of pending query jobs.
// It backs the QueryPool so a burst of submissions does not translate into
// a burst of concurrent pipelines.
type JobQueue struct {
	capacity int
	byID     map[string]*QueryJob
	heap     jobHeap
	mu       sync.Mutex

	enqueued int64
	dequeued int64
	rejected int64
}

// NewJobQueue creates a queue holding at most capacity pending jobs.
func NewJobQueue(capacity int) *JobQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &JobQueue{
		capacity: capacity,
		byID:     make(map[string]*QueryJob),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a job. Jobs must carry a unique, non-empty ID.
func (q *JobQueue) Enqueue(job *QueryJob) error {
	if job == nil || job.ID == "" || job.SQL == "" {
		return ErrInvalidJob
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) >= q.capacity {
		q.rejected++
		return ErrQueueFull
	}
	if _, exists := q.byID[job.ID]; exists {
		return ErrJobExists
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	heap.Push(&q.heap, job)
	q.byID[job.ID] = job
	q.enqueued++
	return nil
}

// Dequeue removes and returns the highest-priority job, nil when empty.
func (q *JobQueue) Dequeue() *QueryJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	job := heap.Pop(&q.heap).(*QueryJob)
	delete(q.byID, job.ID)
	q.dequeued++
	return job
}

// Remove drops a queued job by ID, reporting whether it was present.
func (q *JobQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.byID[id]
	if !exists {
		return false
	}
	for i, queued := range q.heap {
		if queued == job {
			heap.Remove(&q.heap, i)
			break
		}
	}
	delete(q.byID, id)
	return true
}

// Contains reports whether a job with the given ID is queued.
func (q *JobQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.byID[id]
	return exists
}

// Len returns the number of pending jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// IsFull reports whether the queue is at capacity.
func (q *JobQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap) >= q.capacity
}

// Clear drops all pending jobs.
func (q *JobQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = q.heap[:0]
	q.byID = make(map[string]*QueryJob)
}

// Stats returns a snapshot of queue statistics.
func (q *JobQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Size:     len(q.heap),
		Capacity: q.capacity,
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Rejected: q.rejected,
	}
}
