// Package engine assembles the index: store, scanner, search, updater
// and watcher behind one façade with a single-scan guarantee and a
// coalescing background rescan queue.
package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/geninfo"
	"github.com/standardbeagle/mjrindex/internal/metadata"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/scanner"
	"github.com/standardbeagle/mjrindex/internal/search"
	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
	"github.com/standardbeagle/mjrindex/internal/updater"
	"github.com/standardbeagle/mjrindex/internal/watcher"
	"github.com/standardbeagle/mjrindex/pkg/pathutil"
)

// Engine is the assembled index service.
type Engine struct {
	cfg   *config.Config
	log   *zap.Logger
	store *store.Store

	meta     *metadata.Service
	parser   *geninfo.Parser
	scanner  *scanner.Scanner
	enricher *scanner.Enricher
	search   *search.Engine
	updater  *updater.Updater
	wb       *updater.Writeback
	watcher  *watcher.Watcher
	roots    *RootRegistry
	jobs     *jobQueue

	// scanMu is the single write lock: every store-mutating path
	// (scans, watcher indexing, enrichment, user edits, removals)
	// serializes here so read-modify-write rounds never interleave.
	scanMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// Open builds the engine over the configured output root: opens the
// database (creating the index directory if needed), migrates the
// schema and repairs legacy FTS state before anything else touches it.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if err := config.NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.IndexDir(), 0o755); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "create index dir")
	}

	st, err := store.Open(cfg.DatabasePath(), store.Options{
		PoolSize:         cfg.Store.PoolSize,
		StatementTimeout: cfg.Store.StatementTimeout,
		BusyTimeout:      cfg.Store.BusyTimeout,
		CacheSizeKB:      cfg.Store.CacheSizeKB,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := st.MigrateSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := st.RepairMetadataFTS(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	roots, err := LoadRoots(cfg.CustomRootsPath())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ectx, cancel := context.WithCancel(context.Background())

	exiftool := probe.NewExifTool(cfg.Probe.ExifToolPath, cfg.Probe.CallTimeout, log)
	ffprobe := probe.NewFFprobe(cfg.Probe.FFprobePath, cfg.Probe.CallTimeout, log)
	router := probe.NewRouter(probe.ParseBackend(cfg.Probe.Backend), exiftool, ffprobe)

	e := &Engine{
		cfg:    cfg,
		log:    log,
		store:  st,
		parser: geninfo.NewParser(log),
		roots:  roots,
		ctx:    ectx,
		cancel: cancel,
	}
	e.meta = metadata.NewService(router, cfg.Probe.ExtractWorkers, log)
	e.enricher = scanner.NewEnricher(ectx, st, e.meta, cfg.Scan.EnrichChunk, &e.scanMu, log)
	e.scanner = scanner.New(st, e.meta, cfg, e.enricher, log)
	e.search = search.NewEngine(st, cfg.Search, log)
	e.wb = updater.NewWriteback(ectx, exiftool, log)
	e.updater = updater.New(st, e.wb, &e.scanMu, log)
	e.jobs = newJobQueue(ectx, e.runJob, log)

	return e, nil
}

// Close shuts the engine down, draining background workers first.
func (e *Engine) Close() error {
	e.cancel()
	if e.watcher != nil {
		e.watcher.Stop()
	}
	e.jobs.close()
	e.enricher.Close()
	e.wb.Close()
	return e.store.Close()
}

// Store exposes the store for maintenance commands.
func (e *Engine) Store() *store.Store { return e.store }

// Roots exposes the custom roots registry.
func (e *Engine) Roots() *RootRegistry { return e.roots }

// ScanOutput scans the output root.
func (e *Engine) ScanOutput(ctx context.Context, recursive, incremental bool) (types.ScanStats, error) {
	return e.scan(ctx, e.cfg.Roots.Output, types.SourceOutput, nil, recursive, incremental)
}

// ScanInput scans the optional input root.
func (e *Engine) ScanInput(ctx context.Context, recursive, incremental bool) (types.ScanStats, error) {
	if e.cfg.Roots.Input == "" {
		return types.ScanStats{}, mjrerr.New(mjrerr.CodeInvalidInput, "no input root configured")
	}
	return e.scan(ctx, e.cfg.Roots.Input, types.SourceInput, nil, recursive, incremental)
}

// ScanCustomRoot scans one registered custom root by id.
func (e *Engine) ScanCustomRoot(ctx context.Context, rootID string, recursive, incremental bool) (types.ScanStats, error) {
	root, ok := e.roots.Get(rootID)
	if !ok {
		return types.ScanStats{}, mjrerr.New(mjrerr.CodeNotFound, "custom root %s not found", rootID)
	}
	return e.scan(ctx, root.Path, types.SourceCustom, &root.ID, recursive, incremental)
}

// ScanAll scans the output root, then the input root and every custom
// root that is configured.
func (e *Engine) ScanAll(ctx context.Context, recursive, incremental bool) (types.ScanStats, error) {
	stats, err := e.ScanOutput(ctx, recursive, incremental)
	if err != nil {
		return stats, err
	}
	if e.cfg.Roots.Input != "" {
		s, err := e.ScanInput(ctx, recursive, incremental)
		stats.Merge(s)
		if err != nil {
			return stats, err
		}
	}
	for _, root := range e.roots.List() {
		id := root.ID
		s, err := e.scan(ctx, root.Path, types.SourceCustom, &id, recursive, incremental)
		stats.Merge(s)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (e *Engine) scan(ctx context.Context, root string, source types.Source, rootID *string, recursive, incremental bool) (types.ScanStats, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	return e.scanner.ScanDirectory(ctx, root, source, rootID, recursive, incremental)
}

// IndexPaths indexes specific files under the output root.
func (e *Engine) IndexPaths(ctx context.Context, paths []string) (types.ScanStats, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	stats, err := e.scanner.IndexPaths(ctx, paths, e.cfg.Roots.Output, types.SourceOutput, nil, true)
	if err != nil {
		return stats, err
	}
	if err := e.store.SetMetaTime(ctx, store.KeyLastIndexEnd, time.Now()); err != nil {
		e.log.Warn("index: marker not persisted", zap.Error(err))
	}
	return stats, nil
}

// RemovePath removes a file or subtree from the index.
func (e *Engine) RemovePath(ctx context.Context, path string) (int64, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	return e.scanner.RemovePath(ctx, path)
}

// DeleteAsset removes one asset row by id.
func (e *Engine) DeleteAsset(ctx context.Context, id int64) (bool, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	return e.store.DeleteAsset(ctx, id)
}

// Search answers a validated FTS query.
func (e *Engine) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	return e.search.Search(ctx, req)
}

// Browse pages assets newest-first.
func (e *Engine) Browse(ctx context.Context, req search.BrowseRequest) (*search.Response, error) {
	return e.search.Browse(ctx, req)
}

// GetAsset hydrates one asset, self-healing stale generation info.
func (e *Engine) GetAsset(ctx context.Context, id int64) (*search.Detail, error) {
	return e.search.GetAsset(ctx, id, e.parser, e.meta)
}

// GetAssets fetches assets by id in request order.
func (e *Engine) GetAssets(ctx context.Context, ids []int64) ([]*types.Asset, error) {
	return e.search.GetAssets(ctx, ids)
}

// LookupByFilepaths resolves absolute paths to indexed assets.
func (e *Engine) LookupByFilepaths(ctx context.Context, paths []string) (map[string]*types.Asset, error) {
	return e.search.LookupByFilepaths(ctx, paths)
}

// SetRating stores a user rating and mirrors it into the file.
func (e *Engine) SetRating(ctx context.Context, assetID int64, rating int) error {
	return e.updater.SetRating(ctx, assetID, rating)
}

// SetTags stores user tags and mirrors them into the file.
func (e *Engine) SetTags(ctx context.Context, assetID int64, tags []string) error {
	return e.updater.SetTags(ctx, assetID, tags)
}

// AllTags lists every known tag with counts.
func (e *Engine) AllTags(ctx context.Context) ([]updater.TagCount, error) {
	return e.updater.AllTags(ctx)
}

// SuggestTags proposes close matches to a tag fragment.
func (e *Engine) SuggestTags(ctx context.Context, fragment string, limit int) ([]string, error) {
	return e.updater.SuggestTags(ctx, fragment, limit)
}

// ExtractMetadata runs a one-off extraction without touching the store.
func (e *Engine) ExtractMetadata(ctx context.Context, path string) (*metadata.Record, error) {
	return e.meta.Extract(ctx, path)
}

// StartWatcher attaches the live watcher to the output root. Events
// feed the background rescan queue for the containing directory and
// immediate indexing for the file itself.
func (e *Engine) StartWatcher() error {
	if e.watcher != nil {
		return nil
	}
	w, err := watcher.New(e.cfg, e.store, watcher.Callbacks{
		OnChanged: e.onFileChanged,
		OnRemoved: e.onFileRemoved,
	}, e.log)
	if err != nil {
		return err
	}
	if err := w.Start(e.cfg.Roots.Output); err != nil {
		return err
	}
	e.watcher = w
	return nil
}

func (e *Engine) onFileChanged(path string) {
	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Minute)
	defer cancel()
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	if _, err := e.scanner.IndexPaths(ctx, []string{path}, e.cfg.Roots.Output, types.SourceOutput, nil, true); err != nil {
		e.log.Warn("watch: index failed", zap.String("path", path), zap.Error(err))
	}
}

func (e *Engine) onFileRemoved(path string) {
	ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	defer cancel()
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	if _, err := e.scanner.RemovePath(ctx, path); err != nil {
		e.log.Warn("watch: remove failed", zap.String("path", path), zap.Error(err))
	}
}

// EnqueueRescan schedules a coalesced background rescan of a directory.
func (e *Engine) EnqueueRescan(source types.Source, rootID *string, dir string) bool {
	return e.jobs.enqueue(source, rootID, dir)
}

func (e *Engine) runJob(ctx context.Context, j job) {
	canonical, err := pathutil.Canonicalize(j.key.dir)
	if err != nil {
		e.log.Warn("jobs: bad directory", zap.String("dir", j.key.dir), zap.Error(err))
		return
	}
	if _, err := e.scan(ctx, canonical, j.key.source, j.rootIDPtr, true, true); err != nil {
		e.log.Warn("jobs: rescan failed", zap.String("dir", canonical), zap.Error(err))
	}
}
