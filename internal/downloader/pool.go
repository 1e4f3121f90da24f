package downloader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pixivdl/pkg/feed"
	"pixivdl/pkg/logger"
)

// Outcome is the terminal state of one processed item
type Outcome int

const (
	// OutcomeFailed means at least one asset of the item could not be written
	OutcomeFailed Outcome = iota
	// OutcomeDownloaded means every asset was written and the item recorded
	OutcomeDownloaded
	// OutcomeSkipped means the item was already in the dedup index
	OutcomeSkipped
	// OutcomeNoContent means the item is not accessible and was recorded as such
	OutcomeNoContent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNoContent:
		return "no_content"
	default:
		return "failed"
	}
}

// Job is one item of a page, Seq is its position in the page
type Job struct {
	Seq  int
	Item feed.Item
}

// Result represents the result of a processed job
type Result struct {
	Job      Job
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Processor handles one item end to end
type Processor interface {
	Process(ctx context.Context, item feed.Item) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, item feed.Item) (Outcome, error)

// Process calls f
func (f ProcessorFunc) Process(ctx context.Context, item feed.Item) (Outcome, error) {
	return f(ctx, item)
}

// WorkerPool manages concurrent item workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	processor   Processor
	logger      logger.Logger
}

// NewWorkerPool creates a new worker pool bound to ctx
func NewWorkerPool(ctx context.Context, numWorkers int, processor Processor, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		processor:   processor,
		logger:      logger.OrGlobal(log),
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for queued jobs and closes Results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("Worker pool stopped")
}

// Submit adds a job to the queue
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Abort cancels the pool. Jobs that have not started yet fail with the
// context error instead of reaching the processor.
func (wp *WorkerPool) Abort() {
	wp.logger.Debug("Worker pool aborted")
	wp.cancel()
}

// Results returns the result channel. Every submitted job yields exactly
// one result.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// RunBatch processes items on the started pool and returns their results
// in item order
func (wp *WorkerPool) RunBatch(items []feed.Item) []Result {
	go func() {
		for i, item := range items {
			if err := wp.Submit(Job{Seq: i, Item: item}); err != nil {
				for j := i; j < len(items); j++ {
					wp.resultQueue <- Result{Job: Job{Seq: j, Item: items[j]}, Outcome: OutcomeFailed, Err: err}
				}
				return
			}
		}
	}()

	results := make([]Result, 0, len(items))
	for len(results) < len(items) {
		results = append(results, <-wp.resultQueue)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Job.Seq < results[j].Job.Seq })
	return results
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		wp.resultQueue <- wp.processJob(job, id)
	}
}

// processJob runs the processor unless the pool is already cancelled
func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job, Outcome: OutcomeFailed}

	if err := wp.ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	wp.logger.DebugWithFields("Worker processing item", map[string]interface{}{
		"worker_id": workerID,
		"item_id":   job.Item.ID,
	})

	result.Outcome, result.Err = wp.processor.Process(wp.ctx, job.Item)
	if result.Err != nil {
		result.Outcome = OutcomeFailed
	}
	result.Duration = time.Since(start)
	return result
}

// GetQueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

// GetActiveWorkers returns the number of workers
func (wp *WorkerPool) GetActiveWorkers() int {
	return wp.numWorkers
}
