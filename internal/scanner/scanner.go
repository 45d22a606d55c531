package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/metadata"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
	"github.com/standardbeagle/mjrindex/pkg/pathutil"
)

// Scanner drives the index pipeline: walk, change detection against the
// scan journal, metadata extraction, and batched writes.
type Scanner struct {
	store  *store.Store
	meta   *metadata.Service
	walker *Walker
	cfg    *config.Config
	log    *zap.Logger

	enricher *Enricher
}

// New builds a scanner. The enricher is optional; pass nil to disable
// deferred enrichment (fast-mode scans then leave metadata empty).
func New(st *store.Store, meta *metadata.Service, cfg *config.Config, enricher *Enricher, log *zap.Logger) *Scanner {
	return &Scanner{
		store:    st,
		meta:     meta,
		walker:   NewWalker(cfg, log),
		cfg:      cfg,
		log:      log,
		enricher: enricher,
	}
}

// ScanDirectory walks a root and indexes everything under it. With
// incremental set, files whose journal state hash is unchanged are
// skipped; without it every file is reprocessed. On a complete walk
// the last_scan_end marker advances; partial or canceled walks leave
// it untouched so the next scan redoes the window.
func (s *Scanner) ScanDirectory(ctx context.Context, root string, source types.Source, rootID *string, recursive, incremental bool) (types.ScanStats, error) {
	stats := types.ScanStats{StartTime: time.Now()}

	canonical, err := pathutil.Canonicalize(root)
	if err != nil {
		return stats, mjrerr.Wrap(mjrerr.CodeInvalidInput, err, "canonicalize %s", root)
	}
	fi, err := os.Stat(canonical)
	if err != nil {
		return stats, mjrerr.Wrap(mjrerr.CodeDirNotFound, err, "scan root %s", canonical)
	}
	if !fi.IsDir() {
		return stats, mjrerr.New(mjrerr.CodeNotADirectory, "%s is not a directory", canonical)
	}

	entries, errc := s.walker.Walk(ctx, canonical, recursive, s.cfg.ChannelCapacity())

	batch := make([]Entry, 0, s.cfg.Scan.BatchSmall)
	seen := 0
	for entry := range entries {
		batch = append(batch, entry)
		seen++
		if len(batch) >= s.batchSize(seen) {
			stats.Merge(s.processBatch(ctx, batch, canonical, source, rootID, incremental))
			batch = batch[:0]
			if ctx.Err() != nil {
				break
			}
		}
	}
	if len(batch) > 0 && ctx.Err() == nil {
		stats.Merge(s.processBatch(ctx, batch, canonical, source, rootID, incremental))
	}

	if walkErr := <-errc; walkErr != nil {
		stats.EndTime = time.Now()
		return stats, mjrerr.Wrap(mjrerr.CodeScanFailed, walkErr, "walk %s", canonical)
	}

	stats.EndTime = time.Now()
	if err := s.store.SetMetaTime(ctx, store.KeyLastScanEnd, stats.EndTime); err != nil {
		s.log.Warn("scan: could not persist scan marker", zap.Error(err))
	}
	s.log.Info("scan complete",
		zap.String("root", canonical),
		zap.Int("scanned", stats.Scanned),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
		zap.Duration("elapsed", stats.EndTime.Sub(stats.StartTime)))
	return stats, nil
}

// IndexPaths indexes an explicit list of files, used by the watcher and
// the index operation. Paths outside the given root are rejected
// per-path, not per-call.
func (s *Scanner) IndexPaths(ctx context.Context, paths []string, root string, source types.Source, rootID *string, incremental bool) (types.ScanStats, error) {
	stats := types.ScanStats{StartTime: time.Now()}

	canonicalRoot, err := pathutil.Canonicalize(root)
	if err != nil {
		return stats, mjrerr.Wrap(mjrerr.CodeInvalidInput, err, "canonicalize %s", root)
	}

	var batch []Entry
	for _, p := range paths {
		canonical, err := pathutil.Canonicalize(p)
		if err != nil || !pathutil.Contains(canonicalRoot, canonical) {
			stats.Errors++
			continue
		}
		entry, ok := s.statEntry(canonical)
		if !ok {
			stats.Errors++
			continue
		}
		batch = append(batch, entry)
	}

	max := s.cfg.Scan.MaxTransactionBatch
	for start := 0; start < len(batch); start += max {
		end := start + max
		if end > len(batch) {
			end = len(batch)
		}
		stats.Merge(s.processBatch(ctx, batch[start:end], canonicalRoot, source, rootID, incremental))
	}
	stats.EndTime = time.Now()
	return stats, nil
}

// RemovePath drops a file or a whole subtree from the index.
func (s *Scanner) RemovePath(ctx context.Context, path string) (int64, error) {
	canonical, err := pathutil.Canonicalize(path)
	if err != nil {
		return 0, mjrerr.Wrap(mjrerr.CodeInvalidInput, err, "canonicalize %s", path)
	}

	removed, err := s.store.DeleteByFilepath(ctx, canonical)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := s.store.DeleteJournal(ctx, canonical); err != nil {
			s.log.Warn("remove: journal cleanup failed", zap.Error(err))
		}
		if err := s.store.DeleteCache(ctx, canonical); err != nil {
			s.log.Warn("remove: cache cleanup failed", zap.Error(err))
		}
		return removed, nil
	}
	// Not an exact file match: treat as a directory prefix.
	return s.store.DeleteUnderPrefix(ctx, canonical)
}

func (s *Scanner) statEntry(path string) (Entry, bool) {
	name := filepath.Base(path)
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	kind := types.KindOfExt(ext)
	if kind == types.KindUnknown || strings.HasPrefix(name, ".") {
		return Entry{}, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
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

// batchSize grows with the number of files seen so tiny directories
// commit quickly while huge trees amortize transaction overhead.
func (s *Scanner) batchSize(seen int) int {
	sc := s.cfg.Scan
	switch {
	case seen < 100:
		return sc.BatchSmall
	case seen < 1000:
		return sc.BatchMed
	case seen < 10000:
		return sc.BatchLarge
	default:
		return sc.BatchXL
	}
}

// pending carries one entry through the batch pipeline.
type pending struct {
	entry     Entry
	stateHash string
	record    *metadata.Record
	cachedRaw string
	created   bool

	// refresh means the file's mtime moved but its bytes apparently
	// did not; the cached record is re-applied only when the flags
	// would change, and the file counts as skipped.
	refresh bool
	prior   *types.Asset
}

// processBatch runs the per-batch pipeline: prefetch journal and cache
// state, skip unchanged files, extract metadata for the rest outside
// any transaction, then commit the whole batch in one immediate
// transaction with a per-entry fallback.
func (s *Scanner) processBatch(ctx context.Context, batch []Entry, root string, source types.Source, rootID *string, incremental bool) types.ScanStats {
	stats := types.ScanStats{StartTime: time.Now()}
	stats.Scanned = len(batch)

	paths := make([]string, len(batch))
	for i, e := range batch {
		paths[i] = e.Path
	}

	journal, err := s.store.JournalEntries(ctx, paths)
	if err != nil {
		s.log.Warn("scan: journal prefetch failed", zap.Error(err))
		journal = map[string]store.JournalEntry{}
	}
	cache, err := s.store.CacheEntries(ctx, paths)
	if err != nil {
		s.log.Warn("scan: cache prefetch failed", zap.Error(err))
		cache = map[string]store.CacheEntry{}
	}
	existing, err := s.store.LookupByFilepaths(ctx, paths)
	if err != nil {
		s.log.Warn("scan: asset prefetch failed", zap.Error(err))
		existing = map[string]*types.Asset{}
	}

	var work []*pending
	var extractPaths []string
	for _, e := range batch {
		hash := types.StateHash(e.Path, e.Mtime.UnixNano(), e.Size)
		j, journaled := journal[e.Path]
		prior, indexed := existing[e.Path]

		if incremental && journaled && j.StateHash == hash && indexed {
			stats.Skipped++
			continue
		}

		p := &pending{entry: e, stateHash: hash}

		// An mtime move with the size unchanged is almost always a
		// touch, not a rewrite. When the cache still holds a record
		// for the file, refresh the bookkeeping instead of running a
		// full extract-and-update round.
		if indexed && journaled && j.StateHash != hash && j.Size == e.Size {
			if c, ok := cache[e.Path]; ok && c.MetadataRaw != "" {
				p.refresh = true
				p.prior = prior
				p.cachedRaw = c.MetadataRaw
			}
		}
		if !p.refresh {
			if c, ok := cache[e.Path]; ok && c.StateHash == hash && c.MetadataRaw != "" {
				p.cachedRaw = c.MetadataRaw
			} else if !s.cfg.Scan.FastMode {
				extractPaths = append(extractPaths, e.Path)
			}
		}
		work = append(work, p)
	}
	if len(work) == 0 {
		stats.EndTime = time.Now()
		return stats
	}

	var records map[string]*metadata.Record
	if len(extractPaths) > 0 {
		records, err = s.meta.ExtractBatch(ctx, extractPaths)
		if err != nil {
			s.log.Warn("scan: extraction batch failed", zap.Error(err))
		}
	}
	for _, p := range work {
		if p.cachedRaw != "" {
			if rec, err := metadata.DecodeRecord(p.cachedRaw); err == nil {
				p.record = rec
			}
		}
		if p.record == nil && records != nil {
			p.record = records[p.entry.Path]
		}
	}

	journalSkips := stats.Skipped
	txErr := s.store.WithTxMode(ctx, store.TxImmediate, func(ctx context.Context) error {
		for _, p := range work {
			if err := s.writeEntry(ctx, p, root, source, rootID, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		// Batch transaction failed: reprocess entry by entry so one
		// poisoned row cannot sink the whole batch.
		s.log.Warn("scan: batch transaction failed, retrying per entry", zap.Error(txErr))
		stats.Added, stats.Updated, stats.Errors = 0, 0, 0
		stats.Skipped = journalSkips
		for _, p := range work {
			err := s.store.WithTxMode(ctx, store.TxImmediate, func(ctx context.Context) error {
				return s.writeEntry(ctx, p, root, source, rootID, &stats)
			})
			if err != nil {
				s.log.Warn("scan: entry failed", zap.String("path", p.entry.Path), zap.Error(err))
				stats.Errors++
			}
		}
	}

	if s.cfg.Scan.FastMode && s.enricher != nil {
		for _, p := range work {
			if p.record == nil && !p.refresh {
				s.enricher.Add(p.entry.Path)
				stats.ToEnrich++
			}
		}
	}

	stats.EndTime = time.Now()
	return stats
}

// writeEntry persists one file: asset row, metadata row, journal and
// cache write-through. Caller provides the surrounding transaction.
func (s *Scanner) writeEntry(ctx context.Context, p *pending, root string, source types.Source, rootID *string, stats *types.ScanStats) error {
	if p.refresh {
		return s.refreshEntry(ctx, p, stats)
	}
	e := p.entry
	asset := &types.Asset{
		Filepath:  e.Path,
		Filename:  e.Name,
		Subfolder: pathutil.Subfolder(root, e.Path),
		Source:    source,
		RootID:    rootID,
		Kind:      e.Kind,
		Ext:       e.Ext,
		Size:      e.Size,
		Mtime:     float64(e.Mtime.UnixNano()) / 1e9,
		HashState: &p.stateHash,
	}
	if rec := p.record; rec != nil {
		asset.Width = rec.Width
		asset.Height = rec.Height
		asset.Duration = rec.Duration
	}

	id, created, err := s.store.UpsertAsset(ctx, asset)
	if err != nil {
		return err
	}
	p.created = created
	if created {
		stats.Added++
	} else {
		stats.Updated++
	}

	if rec := p.record; rec != nil {
		m := store.MetadataUpsert{
			AssetID:           id,
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
		if err := s.store.UpsertAssetMetadata(ctx, m); err != nil {
			return err
		}
	}

	if err := s.store.UpsertJournal(ctx, []store.JournalEntry{{
		Filepath:  e.Path,
		DirPath:   e.DirPath,
		StateHash: p.stateHash,
		Mtime:     float64(e.Mtime.UnixNano()) / 1e9,
		Size:      e.Size,
	}}); err != nil {
		return err
	}

	if rec := p.record; rec != nil && p.cachedRaw == "" {
		return s.store.UpsertCache(ctx, []store.CacheEntry{{
			Filepath:     e.Path,
			StateHash:    p.stateHash,
			MetadataHash: rec.Hash(),
			MetadataRaw:  rec.RawJSON(),
		}})
	}
	return nil
}

// refreshEntry advances the journal and cache to the new state hash
// for a touched-but-unchanged file. The metadata row is rewritten only
// when the cached record would flip the workflow or generation flags;
// otherwise the row is left alone and only the asset's mtime and state
// hash move. Either way the file counts as skipped.
func (s *Scanner) refreshEntry(ctx context.Context, p *pending, stats *types.ScanStats) error {
	e := p.entry
	mtime := float64(e.Mtime.UnixNano()) / 1e9

	if rec := p.record; rec != nil {
		flagsChanged := rec.HasWorkflow() != p.prior.HasWorkflow ||
			rec.HasGenerationData() != p.prior.HasGenerationData
		if flagsChanged {
			m := store.MetadataUpsert{
				AssetID:           p.prior.ID,
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
			if err := s.store.UpsertAssetMetadata(ctx, m); err != nil {
				return err
			}
		}
	}

	if _, _, err := s.store.Execute(ctx,
		`UPDATE assets SET mtime = ?, hash_state = ? WHERE id = ?`,
		mtime, p.stateHash, p.prior.ID); err != nil {
		return mjrerr.Wrap(mjrerr.CodeUpdateFailed, err, "refresh asset %s", e.Path)
	}
	if err := s.store.UpsertJournal(ctx, []store.JournalEntry{{
		Filepath:  e.Path,
		DirPath:   e.DirPath,
		StateHash: p.stateHash,
		Mtime:     mtime,
		Size:      e.Size,
	}}); err != nil {
		return err
	}
	if err := s.store.UpsertCache(ctx, []store.CacheEntry{{
		Filepath:     e.Path,
		StateHash:    p.stateHash,
		MetadataHash: hashOrEmpty(p.record),
		MetadataRaw:  p.cachedRaw,
	}}); err != nil {
		return err
	}
	stats.Skipped++
	return nil
}

func hashOrEmpty(rec *metadata.Record) string {
	if rec == nil {
		return ""
	}
	return rec.Hash()
}
