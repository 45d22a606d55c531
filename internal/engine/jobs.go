package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/types"
)

const (
	// maxPendingJobs bounds the queue; beyond it new jobs are dropped
	// (the directory will be picked up by the next full scan anyway).
	maxPendingJobs = 64

	// minJobInterval is the floor between two scans of the same
	// directory, so a busy output folder does not rescan in a loop.
	minJobInterval = 10 * time.Second
)

// jobKey identifies a directory scan for coalescing.
type jobKey struct {
	source types.Source
	rootID string
	dir    string
}

type job struct {
	key       jobKey
	rootIDPtr *string
	enqueued  time.Time
}

// jobQueue coalesces background directory rescans: repeated requests
// for the same directory merge, and a directory never rescans more
// often than minJobInterval.
type jobQueue struct {
	run func(ctx context.Context, j job)
	log *zap.Logger

	mu      sync.Mutex
	pending map[jobKey]*job
	order   []jobKey
	lastRun map[jobKey]time.Time
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newJobQueue(ctx context.Context, run func(context.Context, job), log *zap.Logger) *jobQueue {
	ctx, cancel := context.WithCancel(ctx)
	return &jobQueue{
		run:     run,
		log:     log,
		pending: make(map[jobKey]*job),
		lastRun: make(map[jobKey]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// enqueue schedules a directory rescan. Returns false when the queue is
// full or closed.
func (q *jobQueue) enqueue(source types.Source, rootID *string, dir string) bool {
	key := jobKey{source: source, dir: dir}
	if rootID != nil {
		key.rootID = *rootID
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return false
	}
	if _, ok := q.pending[key]; ok {
		return true // coalesced
	}
	if len(q.order) >= maxPendingJobs {
		q.log.Warn("jobs: queue full, dropping rescan", zap.String("dir", dir))
		return false
	}
	q.pending[key] = &job{key: key, rootIDPtr: rootID, enqueued: time.Now()}
	q.order = append(q.order, key)
	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.worker()
	}
	return true
}

// depth reports the pending job count.
func (q *jobQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// close stops the worker after the in-flight job.
func (q *jobQueue) close() {
	q.cancel()
	q.wg.Wait()
}

func (q *jobQueue) worker() {
	defer q.wg.Done()
	for {
		j, wait, ok := q.next()
		if !ok {
			return
		}
		if wait > 0 {
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		q.run(q.ctx, j)
		q.mu.Lock()
		q.lastRun[j.key] = time.Now()
		q.mu.Unlock()
	}
}

// next pops the oldest job, reporting how long to wait before running
// it to honor the per-directory interval.
func (q *jobQueue) next() (job, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 || q.ctx.Err() != nil {
		q.running = false
		return job{}, 0, false
	}
	key := q.order[0]
	q.order = append([]jobKey{}, q.order[1:]...)
	j := q.pending[key]
	delete(q.pending, key)

	var wait time.Duration
	if last, ok := q.lastRun[key]; ok {
		if until := minJobInterval - time.Since(last); until > 0 {
			wait = until
		}
	}
	return *j, wait, true
}
