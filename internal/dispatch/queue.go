// Package dispatch runs best-effort background jobs (outbound email) on a
// bounded queue drained by a fixed pool of workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	ErrQueueClosed = errors.New("dispatch queue is closed")
	ErrQueueFull   = errors.New("dispatch queue is full")
)

// Job is one unit of background work.
type Job struct {
	Kind string
	Run  func(ctx context.Context) error
}

type Queue struct {
	mu     sync.RWMutex
	jobs   chan Job
	closed bool
	logger *log.Logger
}

func NewQueue(size int, logger *log.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Queue{jobs: make(chan Job, size), logger: logger}
}

// Enqueue never blocks: a full queue rejects the job.
func (q *Queue) Enqueue(job Job) error {
	if job.Run == nil {
		return errors.New("dispatch: job has no run func")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		q.logger.WithFields(log.Fields{
			"kind":      job.Kind,
			"queue_len": len(q.jobs),
			"queue_cap": cap(q.jobs),
		}).Debug("job enqueued")
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (q *Queue) Jobs() <-chan Job {
	return q.jobs
}
