package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"moonfetch/pkg/download"
	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/retry"
)

// Job is one file to fetch
type Job struct {
	URL  string
	Dest string
}

// Result is the outcome of a job
type Result struct {
	Job      Job
	Success  bool
	Skipped  bool
	Error    error
	Duration time.Duration
	Bytes    int64
	Attempts int
}

// Fetcher downloads one URL to a destination path
type Fetcher interface {
	Download(ctx context.Context, rawURL, dest string, progress download.ProgressFunc) (*download.Result, error)
}

// Ledger reports transfers that already completed in an earlier run
type Ledger interface {
	IsComplete(url, path string) bool
}

// ProgressFunc observes the transfer of one job
type ProgressFunc func(job Job, written, total int64)

// Options configures a WorkerPool
type Options struct {
	Workers int
	// Attempts per job; failures of kind network or download_incomplete are retried
	Attempts int
	Backoff  retry.BackoffStrategy
	Ledger   Ledger
	Progress ProgressFunc
	Logger   logger.Logger
}

// WorkerPool runs batch downloads on a fixed number of workers
type WorkerPool struct {
	numWorkers  int
	attempts    int
	backoff     retry.BackoffStrategy
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     Fetcher
	ledger      Ledger
	progress    ProgressFunc
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx. Cancelling ctx stops the
// workers after their current attempt.
func NewWorkerPool(ctx context.Context, fetcher Fetcher, opts Options) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.NewKindBackoff()
	}

	return &WorkerPool{
		numWorkers:  opts.Workers,
		attempts:    opts.Attempts,
		backoff:     opts.Backoff,
		jobQueue:    make(chan Job, opts.Workers*2),
		resultQueue: make(chan Result, opts.Workers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		ledger:      opts.Ledger,
		progress:    opts.Progress,
		logger:      logger.OrDefault(opts.Logger),
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"attempts":    wp.attempts,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for queued jobs to finish and closes Results
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping worker pool...")

	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Info("Worker pool stopped")
}

// Cancel aborts in-flight work. Stop must still be called.
func (wp *WorkerPool) Cancel() {
	wp.cancel()
}

// Submit queues a job, blocking while the queue is full
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		wp.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"url":  job.URL,
			"dest": job.Dest,
		})
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel. It must be drained for workers to make
// progress.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for job := range wp.jobQueue {
		var result Result
		if err := wp.ctx.Err(); err != nil {
			result = Result{Job: job, Error: err}
		} else {
			result = wp.processJob(job, id)
		}

		// results are always delivered so Stop can account for every job
		wp.resultQueue <- result
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if wp.ledger != nil && wp.ledger.IsComplete(job.URL, job.Dest) {
		if _, err := os.Stat(job.Dest); err == nil {
			wp.logger.DebugWithFields("Already downloaded", map[string]interface{}{
				"worker_id": workerID,
				"dest":      job.Dest,
			})
			result.Success, result.Skipped = true, true
			result.Duration = time.Since(start)
			return result
		}
	}

	var progress download.ProgressFunc
	if wp.progress != nil {
		progress = func(written, total int64) { wp.progress(job, written, total) }
	}

	cfg := &retry.Config{
		MaxAttempts: wp.attempts,
		Backoff:     wp.backoff,
		RetryIf:     retryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			// the next attempt needs a fresh file
			if errs.Is(err, errs.KindDownloadIncomplete) {
				_ = os.Remove(job.Dest)
			}
		},
		Logger: wp.logger,
	}

	res, err := retry.DoWithResult(wp.ctx, func(ctx context.Context) (*download.Result, error) {
		result.Attempts++
		return wp.fetcher.Download(ctx, job.URL, job.Dest, progress)
	}, cfg)

	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		wp.logger.ErrorWithFields("Worker failed to download", map[string]interface{}{
			"worker_id": workerID,
			"url":       job.URL,
			"error":     err.Error(),
			"attempts":  result.Attempts,
			"duration":  result.Duration,
		})
		return result
	}

	result.Success = true
	result.Bytes = res.Bytes
	wp.logger.DebugWithFields("Worker completed job successfully", map[string]interface{}{
		"worker_id": workerID,
		"dest":      job.Dest,
		"bytes":     result.Bytes,
		"duration":  result.Duration,
	})
	return result
}

// retryable accepts transport failures, truncated bodies and unclassified
// responses whose status says the server may recover
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch errs.KindOf(err) {
	case errs.KindNetwork, errs.KindDownloadIncomplete:
		return true
	case errs.KindUnknown:
		var e *errs.Error
		return errors.As(err, &e) && e.Code != 0 && errs.IsRetryableStatusCode(e.Code)
	}
	return false
}

// GetQueueSize returns the number of queued jobs
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

// GetActiveWorkers returns the number of workers
func (wp *WorkerPool) GetActiveWorkers() int {
	return wp.numWorkers
}
