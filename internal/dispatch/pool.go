package dispatch

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pool drains a Queue with a fixed number of workers.
type Pool struct {
	queue       *Queue
	workerCount int
	jobTimeout  time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger       *log.Logger
	errorHandler func(job Job, err error)
}

type PoolConfig struct {
	// WorkerCount defaults to 1 when zero or negative.
	WorkerCount int
	// JobTimeout bounds a single job; zero means no deadline.
	JobTimeout time.Duration
}

func NewPool(queue *Queue, cfg PoolConfig, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.StandardLogger()
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		logger.WithField("specified_count", cfg.WorkerCount).Warn("invalid worker count, using 1")
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       queue,
		workerCount: workers,
		jobTimeout:  cfg.JobTimeout,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetErrorHandler installs a callback for failed jobs. Failures are always logged.
func (p *Pool) SetErrorHandler(handler func(job Job, err error)) {
	p.errorHandler = handler
}

func (p *Pool) Start() {
	p.logger.WithField("workers", p.workerCount).Info("starting dispatch pool")
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, lets workers drain what is buffered and waits for
// them. Jobs still running when ctx expires are cancelled.
func (p *Pool) Stop(ctx context.Context) {
	p.queue.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
	p.logger.Info("dispatch pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.queue.Jobs() {
		p.run(id, job)
	}
}

func (p *Pool) run(worker int, job Job) {
	ctx := p.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(log.Fields{"worker": worker, "kind": job.Kind, "panic": r}).Error("dispatch job panicked")
		}
	}()

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		p.logger.WithFields(log.Fields{
			"worker":   worker,
			"kind":     job.Kind,
			"duration": time.Since(started).String(),
		}).WithError(err).Warn("dispatch job failed")
		if p.errorHandler != nil {
			p.errorHandler(job, err)
		}
	}
}
