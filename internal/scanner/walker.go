package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Entry is one indexable file found by the walker.
type Entry struct {
	Path    string
	DirPath string
	Name    string
	Ext     string
	Kind    types.Kind
	Size    int64
	Mtime   time.Time
}

// Walker streams indexable files from a directory tree over a bounded
// channel so arbitrarily large trees never accumulate in memory. The
// walk runs in its own goroutine; closing the returned channel is the
// completion sentinel, and the walk error (if any) arrives on errc.
type Walker struct {
	include []string
	exclude []string
	retries int
	log     *zap.Logger
}

// NewWalker builds a walker with the configured include and exclude
// glob patterns, matched against root-relative slash paths.
func NewWalker(cfg *config.Config, log *zap.Logger) *Walker {
	return &Walker{
		include: cfg.Include,
		exclude: cfg.Exclude,
		retries: cfg.Scan.StatRetries,
		log:     log,
	}
}

// Walk starts the tree walk under root. recursive=false limits the walk
// to the root's immediate children.
func (w *Walker) Walk(ctx context.Context, root string, recursive bool, capacity int) (<-chan Entry, <-chan error) {
	out := make(chan Entry, capacity)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				// Unreadable subtree: log and keep walking.
				w.log.Debug("scan: walk error", zap.String("path", path), zap.Error(err))
				return nil
			}
			if d.IsDir() {
				if path == root {
					return nil
				}
				if !recursive {
					return fs.SkipDir
				}
				if w.skipDir(root, path, d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			entry, ok := w.classify(ctx, root, path, d)
			if !ok {
				return nil
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && err != ctx.Err() {
			errc <- err
		} else if ctx.Err() != nil {
			errc <- ctx.Err()
		}
	}()

	return out, errc
}

func (w *Walker) skipDir(root, path, name string) bool {
	if name == config.IndexDirName || strings.HasPrefix(name, ".") {
		return true
	}
	return w.excluded(root, path) && !w.included(root, path)
}

// classify filters one file and stats it, retrying transient stat
// failures (files being renamed out from under the walk).
func (w *Walker) classify(ctx context.Context, root, path string, d fs.DirEntry) (Entry, bool) {
	name := d.Name()
	if strings.HasPrefix(name, ".") {
		return Entry{}, false
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	kind := types.KindOfExt(ext)
	if kind == types.KindUnknown {
		return Entry{}, false
	}
	if w.excluded(root, path) && !w.included(root, path) {
		return Entry{}, false
	}

	var info fs.FileInfo
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		info, err = os.Stat(path)
		if err == nil {
			break
		}
		if os.IsNotExist(err) || ctx.Err() != nil {
			return Entry{}, false
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	if err != nil {
		w.log.Debug("scan: stat failed", zap.String("path", path), zap.Error(err))
		return Entry{}, false
	}

	return Entry{
		Path:    path,
		DirPath: filepath.Dir(path),
		Name:    name,
		Ext:     ext,
		Kind:    kind,
		Size:    info.Size(),
		Mtime:   info.ModTime(),
	}, true
}

func (w *Walker) excluded(root, path string) bool {
	return matchAny(w.exclude, root, path)
}

func (w *Walker) included(root, path string) bool {
	return matchAny(w.include, root, path)
}

func matchAny(patterns []string, root, path string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
