package updater

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/probe"
)

// Writeback mirrors rating and tag edits into the files themselves via
// exiftool, writing the Windows-compatible namespaces alongside XMP so
// other tools see the edits. Edits to the same path coalesce; only the
// latest queued state is written. File mtimes are restored after the
// write so the scanner does not see the write-back as a content change.
type Writeback struct {
	exiftool *probe.ExifTool
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]*edit
	order   []string
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type edit struct {
	rating *int
	tags   []string
}

// NewWriteback builds an idle write-back worker.
func NewWriteback(ctx context.Context, exiftool *probe.ExifTool, log *zap.Logger) *Writeback {
	ctx, cancel := context.WithCancel(ctx)
	return &Writeback{
		exiftool: exiftool,
		log:      log,
		pending:  make(map[string]*edit),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// QueueRating schedules a rating write for one file.
func (w *Writeback) QueueRating(path string, rating int) {
	w.queue(path, func(e *edit) { e.rating = &rating })
}

// QueueTags schedules a tag write for one file.
func (w *Writeback) QueueTags(path string, tags []string) {
	w.queue(path, func(e *edit) { e.tags = tags })
}

func (w *Writeback) queue(path string, apply func(*edit)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	e, ok := w.pending[path]
	if !ok {
		e = &edit{}
		w.pending[path] = e
		w.order = append(w.order, path)
	}
	apply(e)
	if !w.running {
		w.running = true
		w.wg.Add(1)
		go w.run()
	}
}

// Close stops the worker after the in-flight write.
func (w *Writeback) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *Writeback) run() {
	defer w.wg.Done()
	for {
		path, e, ok := w.take()
		if !ok {
			return
		}
		w.write(path, e)
	}
}

func (w *Writeback) take() (string, *edit, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 || w.ctx.Err() != nil {
		w.running = false
		return "", nil, false
	}
	path := w.order[0]
	w.order = append([]string{}, w.order[1:]...)
	e := w.pending[path]
	delete(w.pending, path)
	return path, e, true
}

// write performs one exiftool call. Failures are logged and dropped;
// the database remains authoritative and the next edit retries.
func (w *Writeback) write(path string, e *edit) {
	if w.exiftool == nil || !w.exiftool.IsAvailable() {
		return
	}

	fields := map[string]string{}
	if e.rating != nil {
		fields["XMP:Rating"] = strconv.Itoa(*e.rating)
		fields["Rating"] = strconv.Itoa(*e.rating)
		// Windows shell reads the percent form.
		fields["RatingPercent"] = strconv.Itoa(starsToPercent(*e.rating))
	}
	if e.tags != nil {
		joined := strings.Join(e.tags, "; ")
		fields["XMP:Subject"] = joined
		fields["IPTC:Keywords"] = joined
		fields["XPKeywords"] = joined
	}
	if len(fields) == 0 {
		return
	}

	info, statErr := os.Stat(path)

	ctx, cancelCall := context.WithTimeout(w.ctx, 30*time.Second)
	err := w.exiftool.Write(ctx, path, fields, true)
	cancelCall()
	if err != nil {
		w.log.Warn("writeback: exiftool write failed",
			zap.String("path", path), zap.Error(err))
		return
	}

	// Restore the original mtime so state hashes stay stable.
	if statErr == nil {
		if err := os.Chtimes(path, time.Now(), info.ModTime()); err != nil {
			w.log.Debug("writeback: mtime restore failed",
				zap.String("path", path), zap.Error(err))
		}
	}
}

// starsToPercent inverts the 88/63/38/13 thresholds onto the canonical
// percent values the Windows shell writes.
func starsToPercent(stars int) int {
	switch stars {
	case 5:
		return 99
	case 4:
		return 75
	case 3:
		return 50
	case 2:
		return 25
	case 1:
		return 1
	default:
		return 0
	}
}
