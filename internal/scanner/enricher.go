package scanner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/metadata"
	"github.com/standardbeagle/mjrindex/internal/store"
)

// Enricher backfills metadata for assets indexed by a fast-mode scan.
// Paths queue up deduplicated; a single worker drains them in chunks
// and exits when the queue runs dry, restarting on the next Add.
// Store writes happen under the shared write lock so enrichment never
// interleaves with a running scan's batch.
type Enricher struct {
	store   *store.Store
	meta    *metadata.Service
	chunk   int
	writeMu *sync.Mutex
	log     *zap.Logger

	mu      sync.Mutex
	queued  map[string]bool
	order   []string
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEnricher builds an idle enricher bound to a lifetime context.
// writeMu is the engine's write lock; nil disables the serialization
// (tests that own the store exclusively).
func NewEnricher(ctx context.Context, st *store.Store, meta *metadata.Service, chunk int, writeMu *sync.Mutex, log *zap.Logger) *Enricher {
	if chunk < 1 {
		chunk = 64
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Enricher{
		store:   st,
		meta:    meta,
		chunk:   chunk,
		writeMu: writeMu,
		log:     log,
		queued:  make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add queues a path for enrichment, starting the worker if idle.
// Duplicate adds while a path is still queued are no-ops.
func (e *Enricher) Add(paths ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return
	}
	for _, p := range paths {
		if !e.queued[p] {
			e.queued[p] = true
			e.order = append(e.order, p)
		}
	}
	if !e.running && len(e.order) > 0 {
		e.running = true
		e.wg.Add(1)
		go e.run()
	}
}

// Pending reports the current queue depth.
func (e *Enricher) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Close stops the worker and waits for the in-flight chunk.
func (e *Enricher) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Enricher) run() {
	defer e.wg.Done()
	for {
		chunk := e.take()
		if len(chunk) == 0 {
			return
		}
		if err := e.enrich(chunk); err != nil {
			e.log.Warn("enricher: chunk failed", zap.Error(err))
		}
		if e.ctx.Err() != nil {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return
		}
	}
}

// take pops up to chunk paths; marks the worker idle when empty.
func (e *Enricher) take() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.order) == 0 || e.ctx.Err() != nil {
		e.running = false
		return nil
	}
	n := e.chunk
	if n > len(e.order) {
		n = len(e.order)
	}
	chunk := e.order[:n]
	e.order = append([]string{}, e.order[n:]...)
	for _, p := range chunk {
		delete(e.queued, p)
	}
	return chunk
}

func (e *Enricher) enrich(paths []string) error {
	records, err := e.meta.ExtractBatch(e.ctx, paths)
	if err != nil {
		return err
	}

	if e.writeMu != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	assets, err := e.store.LookupByFilepaths(e.ctx, paths)
	if err != nil {
		return err
	}

	return e.store.WithTx(e.ctx, func(ctx context.Context) error {
		for path, rec := range records {
			asset, ok := assets[path]
			if !ok || rec == nil {
				continue
			}
			m := store.MetadataUpsert{
				AssetID:           asset.ID,
				Tags:              rec.Tags,
				WorkflowHash:      rec.WorkflowHash(),
				HasWorkflow:       rec.HasWorkflow(),
				HasGenerationData: rec.HasGenerationData(),
				Quality:           rec.Quality,
				Raw:               rec.RawJSON(),
			}
			if rec.Rating != nil {
				m.Rating = *rec.Rating
			}
			if err := e.store.UpsertAssetMetadata(ctx, m); err != nil {
				return err
			}
			if asset.HashState != nil {
				if err := e.store.UpsertCache(ctx, []store.CacheEntry{{
					Filepath:     path,
					StateHash:    *asset.HashState,
					MetadataHash: rec.Hash(),
					MetadataRaw:  rec.RawJSON(),
				}}); err != nil {
					return err
				}
			}
			if rec.Width != nil || rec.Duration != nil {
				if _, _, err := e.store.Execute(ctx, `UPDATE assets SET
					width = COALESCE(?, width), height = COALESCE(?, height),
					duration = COALESCE(?, duration) WHERE id = ?`,
					rec.Width, rec.Height, rec.Duration, asset.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
