package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

// ThumbnailJob is one queued thumbnail request.
type ThumbnailJob struct {
	ID        string
	Ref       string
	Width     int
	Height    int
	CreatedAt time.Time
	Callback  func(path string, err error)
}

// ThumbnailStats holds thumbnail generation statistics.
type ThumbnailStats struct {
	TotalProcessed int
	SuccessCount   int
	FailureCount   int
	PendingCount   int
	AvgDurationMs  int64
}

// ThumbnailQueue generates thumbnails on background workers so list screens
// never wait on image decoding.
type ThumbnailQueue struct {
	store     *ImageStore
	jobs      chan *ThumbnailJob
	workers   int
	wg        sync.WaitGroup
	stopCh    chan struct{}
	mu        sync.Mutex
	isRunning bool
	seq       int64
	stats     ThumbnailStats
}

// NewThumbnailQueue creates a queue holding up to queueSize pending jobs.
func NewThumbnailQueue(store *ImageStore, queueSize, workers int) *ThumbnailQueue {
	if workers < 1 {
		workers = 1
	}
	return &ThumbnailQueue{
		store:   store,
		jobs:    make(chan *ThumbnailJob, queueSize),
		workers: workers,
	}
}

// Start starts the workers. They stop on Stop or when ctx is done. A
// stopped queue can be started again.
func (q *ThumbnailQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	stopCh := make(chan struct{})
	q.stopCh = stopCh
	q.mu.Unlock()

	logging.Debug("thumbnail queue started", map[string]interface{}{
		"workers":    q.workers,
		"queue_size": cap(q.jobs),
	})

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, stopCh, i)
	}
}

// Stop stops the workers and waits for them. Jobs still queued are dropped.
func (q *ThumbnailQueue) Stop() {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = false
	stopCh := q.stopCh
	q.mu.Unlock()

	close(stopCh)
	q.wg.Wait()
	dropped := q.Clear()

	stats := q.Stats()
	logging.Debug("thumbnail queue stopped", map[string]interface{}{
		"total_processed": stats.TotalProcessed,
		"failure_count":   stats.FailureCount,
		"dropped":         dropped,
	})
}

// Enqueue requests a thumbnail without blocking and returns the job id.
// callback, if set, runs on its own goroutine with the result.
func (q *ThumbnailQueue) Enqueue(ref string, width, height int, callback func(string, error)) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return "", fmt.Errorf("thumbnail queue is not running")
	}

	q.seq++
	job := &ThumbnailJob{
		ID:        fmt.Sprintf("thumb-%d", q.seq),
		Ref:       ref,
		Width:     width,
		Height:    height,
		CreatedAt: time.Now(),
		Callback:  callback,
	}

	select {
	case q.jobs <- job:
		q.stats.PendingCount++
		return job.ID, nil
	default:
		return "", fmt.Errorf("thumbnail queue is full (capacity: %d)", cap(q.jobs))
	}
}

// GenerateSync generates a thumbnail on the calling goroutine. It works
// whether or not the workers are running.
func (q *ThumbnailQueue) GenerateSync(ctx context.Context, ref string, width, height int) (string, error) {
	start := time.Now()
	path, err := q.store.Thumbnail(ctx, ref, width, height)
	q.record(err, time.Since(start), false)
	return path, err
}

func (q *ThumbnailQueue) worker(ctx context.Context, stopCh <-chan struct{}, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case job := <-q.jobs:
			q.process(ctx, job, workerID)
		}
	}
}

func (q *ThumbnailQueue) process(ctx context.Context, job *ThumbnailJob, workerID int) {
	start := time.Now()
	path, err := q.store.Thumbnail(ctx, job.Ref, job.Width, job.Height)
	q.record(err, time.Since(start), true)

	if err != nil {
		logging.Error("thumbnail generation failed", err, map[string]interface{}{
			"job_id":    job.ID,
			"worker_id": workerID,
			"ref":       job.Ref,
		})
	}
	if job.Callback != nil {
		go job.Callback(path, err)
	}
}

func (q *ThumbnailQueue) record(err error, d time.Duration, queued bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if queued {
		q.stats.PendingCount--
	}
	q.stats.TotalProcessed++
	if err != nil {
		q.stats.FailureCount++
	} else {
		q.stats.SuccessCount++
	}
	total := q.stats.AvgDurationMs*int64(q.stats.TotalProcessed-1) + d.Milliseconds()
	q.stats.AvgDurationMs = total / int64(q.stats.TotalProcessed)
}

// Stats returns a copy of the current statistics.
func (q *ThumbnailQueue) Stats() ThumbnailStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// IsRunning reports whether the workers are running.
func (q *ThumbnailQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isRunning
}

// Clear drops all pending jobs and returns how many were dropped.
func (q *ThumbnailQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := 0
	for {
		select {
		case <-q.jobs:
			cleared++
		default:
			q.stats.PendingCount -= cleared
			return cleared
		}
	}
}
