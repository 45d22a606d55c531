package search

import (
	"context"
	"sort"
	"strings"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// BrowseRequest lists assets newest-first without a text query.
type BrowseRequest struct {
	Sources     []types.Source // empty means all
	RootID      *string
	Kind        types.Kind
	MinRating   int
	HasWorkflow *bool
	Scope       string

	Limit     int
	Offset    int
	WithTotal bool
}

// Browse pages through assets by mtime descending. When several
// sources are requested the per-source streams are prefetched in
// chunks and merged, so one huge source cannot starve the others of
// index-order reads.
func (e *Engine) Browse(ctx context.Context, req BrowseRequest) (*Response, error) {
	limit := req.Limit
	if limit <= 0 || limit > e.limits.MaxBatchIDs {
		limit = e.limits.MaxBatchIDs
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	sources := req.Sources
	if len(sources) == 0 {
		sources = []types.Source{""}
	}

	// Each source stream is fetched up to offset+limit rows (capped by
	// the merge chunk) and the union re-sorted; correct as long as one
	// page never exceeds the chunk size.
	perSource := offset + limit
	if perSource > e.limits.MergeChunk {
		perSource = e.limits.MergeChunk
	}

	var all []Hit
	for _, src := range sources {
		hits, err := e.browseSource(ctx, req, src, perSource)
		if err != nil {
			return nil, err
		}
		all = append(all, hits...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Asset.Mtime != all[j].Asset.Mtime {
			return all[i].Asset.Mtime > all[j].Asset.Mtime
		}
		return all[i].Asset.ID > all[j].Asset.ID
	})

	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	resp := &Response{Hits: all[offset:end]}
	if req.WithTotal {
		n, err := e.browseTotal(ctx, req, sources)
		if err != nil {
			return nil, err
		}
		resp.Total = &n
	}
	return resp, nil
}

func (e *Engine) browseSource(ctx context.Context, req BrowseRequest, src types.Source, limit int) ([]Hit, error) {
	where, args := e.browseClauses(req, src)
	query := `SELECT ` + assetCols + `
		FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id` + where + `
		ORDER BY a.mtime DESC, a.id DESC LIMIT ?`
	rows, err := e.store.Query(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "browse source %q", src)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		a, err := scanBrowseRow(rows)
		if err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan browse row")
		}
		hits = append(hits, Hit{Asset: a})
	}
	return hits, rows.Err()
}

func (e *Engine) browseTotal(ctx context.Context, req BrowseRequest, sources []types.Source) (int64, error) {
	var total int64
	for _, src := range sources {
		where, args := e.browseClauses(req, src)
		var n int64
		err := e.store.QueryRow(ctx, `SELECT COUNT(*)
			FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id`+where, args...).Scan(&n)
		if err != nil {
			return 0, mjrerr.Wrap(mjrerr.CodeDBError, err, "count browse matches")
		}
		total += n
	}
	return total, nil
}

func (e *Engine) browseClauses(req BrowseRequest, src types.Source) (string, []any) {
	var clauses []string
	var args []any

	if src != "" {
		clauses = append(clauses, "a.source = ?")
		args = append(args, string(src))
	}
	if req.RootID != nil {
		clauses = append(clauses, "a.root_id = ?")
		args = append(args, *req.RootID)
	}
	if req.Kind != "" {
		clauses = append(clauses, "a.kind = ?")
		args = append(args, string(req.Kind))
	}
	if req.MinRating > 0 {
		clauses = append(clauses, "COALESCE(m.rating, 0) >= ?")
		args = append(args, req.MinRating)
	}
	if req.HasWorkflow != nil {
		if *req.HasWorkflow {
			clauses = append(clauses, "COALESCE(m.has_workflow, 0) = 1")
		} else {
			clauses = append(clauses, "COALESCE(m.has_workflow, 0) = 0")
		}
	}
	if req.Scope != "" {
		pattern := store.EscapeLike(strings.TrimRight(req.Scope, "/")) + "/%"
		clauses = append(clauses, `a.filepath LIKE ? ESCAPE '\'`)
		args = append(args, pattern)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanBrowseRow(row interface{ Scan(...any) error }) (*types.Asset, error) {
	var a types.Asset
	var rootID, tagsJSON, quality, raw string
	var hasWF, hasGen int
	err := row.Scan(
		&a.ID, &a.Filepath, &a.Filename, &a.Subfolder, &a.Source, &rootID,
		&a.Kind, &a.Ext, &a.Size, &a.Mtime, &a.Width, &a.Height, &a.Duration,
		&a.CreatedAt, &a.UpdatedAt, &a.IndexedAt, &a.ContentHash, &a.PHash, &a.HashState,
		&a.Rating, &tagsJSON, &hasWF, &hasGen, &quality, &raw,
	)
	if err != nil {
		return nil, err
	}
	if rootID != "" {
		a.RootID = &rootID
	}
	a.Tags = types.ParseTagsJSON(tagsJSON)
	a.HasWorkflow = hasWF != 0
	a.HasGenerationData = hasGen != 0
	a.MetadataQuality = types.Quality(quality)
	a.MetadataRaw = raw
	return &a, nil
}
