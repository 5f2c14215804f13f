package worker

import (
	"context"
	"sort"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

type indexedJob struct {
	index int
	job   Job
}

type indexedResult struct {
	index  int
	result Result
}

// Pool manages a pool of workers that execute jobs concurrently.
// Results are returned in submission order regardless of completion order.
type Pool struct {
	workers    int
	jobQueue   chan indexedJob
	results    chan indexedResult
	collected  []indexedResult
	submitted  int
	wg         sync.WaitGroup
	collectWG  sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(workers int) *Pool {
	return NewPoolContext(context.Background(), workers)
}

// NewPoolContext creates a pool whose jobs observe ctx.
func NewPoolContext(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan indexedJob, workers*2),
		results:    make(chan indexedResult, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Start starts the worker pool
func (p *Pool) Start() {
	p.collectWG.Add(1)
	go func() {
		defer p.collectWG.Done()
		for r := range p.results {
			p.collected = append(p.collected, r)
		}
	}()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// worker is the worker goroutine that processes jobs
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job.job.Execute(p.ctx)
			p.results <- indexedResult{index: job.index, result: result}
		}
	}
}

// Submit submits a job to the pool for execution.
// Submit is not safe for concurrent use; jobs are numbered in call order.
func (p *Pool) Submit(job Job) {
	ij := indexedJob{index: p.submitted, job: job}
	p.submitted++
	select {
	case <-p.ctx.Done():
		return
	case p.jobQueue <- ij:
	}
}

// Wait waits for all jobs to complete and returns the results in submission order.
// Jobs dropped by cancellation have no result.
func (p *Pool) Wait() []Result {
	close(p.jobQueue)
	p.wg.Wait()
	p.closeResults()
	p.collectWG.Wait()

	sort.Slice(p.collected, func(i, j int) bool { return p.collected[i].index < p.collected[j].index })
	results := make([]Result, len(p.collected))
	for i, r := range p.collected {
		results[i] = r.result
	}
	return results
}

// Shutdown shuts down the worker pool immediately
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
	p.closeResults()
	p.collectWG.Wait()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
