// Package workerpool runs independent jobs on a fixed number of goroutines.
package workerpool

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool distributes jobs across workers and collects their results.
// Results arrive in completion order, not submission order.
type WorkerPool[Job any, Result any] struct {
	numWorkers int
	jobs       chan Job
	results    chan Result
	wg         sync.WaitGroup
}

// DefaultWorkers is the worker count used when none is configured.
func DefaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// New creates a pool. If numWorkers is 0 or negative it defaults to
// DefaultWorkers; the pool never has more workers than numJobs.
func New[Job any, Result any](numWorkers, numJobs int) *WorkerPool[Job, Result] {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers()
	}
	if numJobs > 0 {
		numWorkers = min(numWorkers, numJobs)
	}

	return &WorkerPool[Job, Result]{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numJobs),
		results:    make(chan Result, numJobs),
	}
}

// Workers returns the number of goroutines the pool runs.
func (p *WorkerPool[Job, Result]) Workers() int {
	return p.numWorkers
}

// Start launches the workers. workerFn is called once per job.
func (p *WorkerPool[Job, Result]) Start(workerFn func(Job) Result) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- workerFn(job)
			}
		}()
	}
}

// Submit queues a job.
func (p *WorkerPool[Job, Result]) Submit(job Job) {
	p.jobs <- job
}

// Close stops accepting jobs. The results channel is closed once every
// submitted job has finished.
func (p *WorkerPool[Job, Result]) Close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Results returns the channel results are delivered on.
func (p *WorkerPool[Job, Result]) Results() <-chan Result {
	return p.results
}

type indexed[T any] struct {
	index int
	value T
}

// Map applies fn to every job on up to numWorkers goroutines and returns the
// results in job order. Jobs not yet started when ctx is cancelled are
// skipped and Map returns ctx.Err().
func Map[Job any, Result any](ctx context.Context, numWorkers int, jobs []Job, fn func(Job) Result) ([]Result, error) {
	out := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return out, ctx.Err()
	}

	pool := New[indexed[Job], indexed[Result]](numWorkers, len(jobs))
	pool.Start(func(job indexed[Job]) indexed[Result] {
		return indexed[Result]{index: job.index, value: fn(job.value)}
	})

	var err error
	for i, job := range jobs {
		if err = ctx.Err(); err != nil {
			break
		}
		pool.Submit(indexed[Job]{index: i, value: job})
	}
	pool.Close()

	for r := range pool.Results() {
		out[r.index] = r.value
	}
	return out, err
}
