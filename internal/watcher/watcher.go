// Package watcher keeps the index live: it follows filesystem events
// under the output root, debounces the write bursts media generators
// produce, and hands settled changes to its callbacks.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Callbacks receive settled file events. Both must be safe for
// concurrent use; the watcher calls them from its own goroutine.
type Callbacks struct {
	OnChanged func(path string)
	OnRemoved func(path string)
}

// Watcher follows one root recursively. Only the output root is
// watched; input and custom roots are rescanned on demand instead.
type Watcher struct {
	fsw       *fsnotify.Watcher
	cfg       *config.Config
	store     *store.Store
	debouncer *debouncer
	callbacks Callbacks
	log       *zap.Logger

	root   string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a watcher; Start attaches it to the root.
func New(cfg *config.Config, st *store.Store, cb Callbacks, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeServiceUnavailable, err, "fsnotify init")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsw:       fsw,
		cfg:       cfg,
		store:     st,
		callbacks: cb,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	w.debouncer = newDebouncer(
		time.Duration(cfg.Watch.DebounceMs)*time.Millisecond,
		time.Duration(cfg.Watch.SettleMs)*time.Millisecond,
		w.dispatch,
	)
	return w, nil
}

// Start attaches watches recursively under root and begins processing.
// The watched scope is persisted so a restarted process can tell
// whether its index was maintained live since the last scan.
func (w *Watcher) Start(root string) error {
	if !w.cfg.Watch.Enabled {
		w.log.Info("watch: disabled by configuration")
		return nil
	}
	if err := w.addWatches(root); err != nil {
		return mjrerr.Wrap(mjrerr.CodeScanFailed, err, "watch %s", root)
	}
	w.root = root

	w.wg.Add(2)
	go w.processEvents()
	go w.debouncer.run(w.ctx, &w.wg)

	if err := w.store.SetMeta(w.ctx, store.KeyWatcherScope, root); err != nil {
		w.log.Warn("watch: scope not persisted", zap.Error(err))
	}
	w.log.Info("watch: started", zap.String("root", root))
	return nil
}

// Stop tears the watcher down and waits for in-flight dispatches.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.fsw.Close()
	w.wg.Wait()
}

// Pending reports the debouncer queue depth.
func (w *Watcher) Pending() int {
	return w.debouncer.depth()
}

// addWatches walks the tree adding a watch per directory; symlink
// cycles are broken by tracking resolved paths.
func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if w.ignoreDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warn("watch: add failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) ignoreDir(path string) bool {
	base := filepath.Base(path)
	if base == config.IndexDirName {
		return true
	}
	if strings.HasPrefix(base, ".") && base != "." && base != ".." {
		return true
	}
	return false
}

// ignoreFile drops dotfiles and in-progress download/temp suffixes.
func (w *Watcher) ignoreFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	lower := strings.ToLower(base)
	for _, suffix := range w.cfg.Watch.TempSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return types.KindOfExt(filepath.Ext(base)) == types.KindUnknown
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch: fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	// Rename and remove look identical from the watched side: the old
	// name is gone. A renamed-in file arrives as a separate CREATE.
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if !w.ignoreFile(path) {
			w.debouncer.add(path, EventRemove)
		}
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 && !w.ignoreDir(path) {
			if err := w.fsw.Add(path); err != nil {
				w.log.Warn("watch: add new dir failed", zap.String("path", path), zap.Error(err))
			}
		}
		return
	}
	if w.ignoreFile(path) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		w.debouncer.add(path, EventCreate)
	case event.Op&fsnotify.Write != 0:
		w.debouncer.add(path, EventWrite)
	}
}

// dispatch runs on the debouncer goroutine once a path's burst settles.
func (w *Watcher) dispatch(path string, eventType EventType) {
	switch eventType {
	case EventRemove:
		if w.callbacks.OnRemoved != nil {
			w.callbacks.OnRemoved(path)
		}
	default:
		// The file may have vanished during the debounce window.
		if _, err := os.Stat(path); err != nil {
			if w.callbacks.OnRemoved != nil {
				w.callbacks.OnRemoved(path)
			}
			return
		}
		if w.callbacks.OnChanged != nil {
			w.callbacks.OnChanged(path)
		}
	}
}
