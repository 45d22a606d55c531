package search

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/geninfo"
	"github.com/standardbeagle/mjrindex/internal/metadata"
	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Detail is a fully hydrated asset: the row plus its decoded metadata
// document.
type Detail struct {
	Asset    *types.Asset     `json:"asset"`
	Metadata *metadata.Record `json:"metadata,omitempty"`
}

// GetAsset fetches one asset and decodes its stored metadata document.
// When the stored generation info is weaker than what the current
// parser extracts from the same stored graphs, the stored document is
// upgraded in place (the opportunistic self-heal for rows written by
// older parser versions). An asset with neither workflow nor
// generation flags whose file still exists gets one targeted re-read
// of its embedded graphs, in case the original scan ran degraded.
func (e *Engine) GetAsset(ctx context.Context, id int64, parser reparser, meta extractor) (*Detail, error) {
	a, err := e.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Asset: a}

	if a.MetadataRaw != "" {
		rec, err := metadata.DecodeRecord(a.MetadataRaw)
		if err != nil {
			e.log.Warn("search: stored metadata undecodable",
				zap.Int64("asset", id), zap.Error(err))
		} else {
			d.Metadata = rec
			if parser != nil && (rec.Prompt != nil || rec.Workflow != nil) {
				if healed := e.reparse(ctx, a.ID, rec, parser); healed != nil {
					d.Metadata = healed
				}
			}
		}
	}

	if meta != nil && parser != nil && !a.HasWorkflow && !a.HasGenerationData {
		if refreshed := e.extractFromFile(ctx, a, d.Metadata, meta, parser); refreshed != nil {
			d.Metadata = refreshed
			a.HasWorkflow = refreshed.HasWorkflow()
			a.HasGenerationData = refreshed.HasGenerationData()
		}
	}
	return d, nil
}

// reparser re-derives generation info from stored graphs; satisfied by
// *geninfo.Parser.
type reparser interface {
	Parse(promptGraph, workflow map[string]any) (*geninfo.GenInfo, *geninfo.Status, error)
}

// extractor performs a targeted single-file graph read; satisfied by
// *metadata.Service.
type extractor interface {
	WorkflowOnly(ctx context.Context, path string) (workflow, prompt map[string]any, err error)
}

// extractFromFile re-reads the on-disk graphs for an asset that was
// indexed without any, persisting the refreshed row when the read
// turns something up. Best effort: any failure leaves the stored row
// as is.
func (e *Engine) extractFromFile(ctx context.Context, a *types.Asset, rec *metadata.Record, meta extractor, parser reparser) *metadata.Record {
	if _, err := os.Stat(a.Filepath); err != nil {
		return nil
	}
	workflow, prompt, err := meta.WorkflowOnly(ctx, a.Filepath)
	if err != nil || (workflow == nil && prompt == nil) {
		return nil
	}

	if rec == nil {
		rec = &metadata.Record{Quality: types.QualityPartial}
	}
	rec.Workflow = workflow
	rec.Prompt = prompt
	if gi, status, err := parser.Parse(prompt, workflow); err == nil && gi != nil {
		rec.GenInfo = gi
		rec.GenInfoStatus = status
		rec.Quality = types.QualityFull
	}

	m := store.MetadataUpsert{
		AssetID:           a.ID,
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
		e.log.Warn("search: targeted re-extract not persisted",
			zap.Int64("asset", a.ID), zap.Error(err))
		return nil
	}
	return rec
}

// reparse runs the current parser over the stored graphs and persists
// the record when the result strictly improves on what is stored.
func (e *Engine) reparse(ctx context.Context, assetID int64, rec *metadata.Record, parser reparser) *metadata.Record {
	gi, status, err := parser.Parse(rec.Prompt, rec.Workflow)
	if err != nil || gi == nil {
		return nil
	}
	if gi.Score() <= rec.GenInfo.Score() {
		return nil
	}

	rec.GenInfo = gi
	rec.GenInfoStatus = status
	rec.Quality = types.QualityFull

	if err := e.store.SetMetadataRaw(ctx, assetID, rec.Quality, rec.RawJSON()); err != nil {
		e.log.Warn("search: metadata upgrade not persisted",
			zap.Int64("asset", assetID), zap.Error(err))
	}
	return rec
}

// GetAssets fetches assets by id in request order.
func (e *Engine) GetAssets(ctx context.Context, ids []int64) ([]*types.Asset, error) {
	if len(ids) > e.limits.MaxBatchIDs {
		ids = ids[:e.limits.MaxBatchIDs]
	}
	return e.store.GetAssets(ctx, ids)
}

// LookupByFilepaths resolves absolute paths to indexed assets.
func (e *Engine) LookupByFilepaths(ctx context.Context, paths []string) (map[string]*types.Asset, error) {
	return e.store.LookupByFilepaths(ctx, paths)
}

// HasAssetsUnder reports whether any indexed asset lives below dir.
func (e *Engine) HasAssetsUnder(ctx context.Context, dir string) (bool, error) {
	return e.store.HasAssetsUnder(ctx, dir)
}
