package search

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// metadataRankBias is added to metadata-FTS ranks so filename matches
// outrank tag and prompt matches at equal relevance; bm25 ranks are
// negative-is-better.
const metadataRankBias = 8.0

// Request is one search call.
type Request struct {
	Query string

	Kind        types.Kind // "" means any
	MinRating   int
	HasWorkflow *bool
	Source      types.Source // "" means any
	RootID      *string
	Scope       string // directory prefix under the root, "" means anywhere

	Limit     int
	Offset    int
	WithTotal bool
}

// browseRequest maps the search filters onto a browse call.
func (r Request) browseRequest() BrowseRequest {
	br := BrowseRequest{
		RootID:      r.RootID,
		Kind:        r.Kind,
		MinRating:   r.MinRating,
		HasWorkflow: r.HasWorkflow,
		Scope:       r.Scope,
		Limit:       r.Limit,
		Offset:      r.Offset,
		WithTotal:   r.WithTotal,
	}
	if r.Source != "" {
		br.Sources = []types.Source{r.Source}
	}
	return br
}

// Hit is one search result with its rank.
type Hit struct {
	Asset *types.Asset `json:"asset"`
	Rank  float64      `json:"rank"`
}

// Response is a page of hits, with the total match count when asked.
type Response struct {
	Hits  []Hit  `json:"hits"`
	Total *int64 `json:"total,omitempty"`
}

// Engine answers search and browse queries over the store.
type Engine struct {
	store  *store.Store
	limits config.Search
	log    *zap.Logger
}

// NewEngine builds a search engine over an open store.
func NewEngine(st *store.Store, limits config.Search, log *zap.Logger) *Engine {
	return &Engine{store: st, limits: limits, log: log}
}

const assetCols = `a.id, a.filepath, a.filename, a.subfolder, a.source, a.root_id,
	a.kind, a.ext, a.size, a.mtime, a.width, a.height, a.duration,
	a.created_at, a.updated_at, a.indexed_at, a.content_hash, a.phash, a.hash_state,
	COALESCE(m.rating, 0), COALESCE(m.tags, '[]'),
	COALESCE(m.has_workflow, 0), COALESCE(m.has_generation_data, 0),
	COALESCE(m.metadata_quality, 'none'), COALESCE(m.metadata_raw, '')`

// Search runs a validated FTS query with filters and pagination. A
// query of "*" (or only wildcards) means browse everything and routes
// to Browse with the same filters.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if isBrowseAll(req.Query) {
		return e.Browse(ctx, req.browseRequest())
	}
	match, err := sanitizeQuery(req.Query, e.limits)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > e.limits.MaxBatchIDs {
		limit = e.limits.MaxBatchIDs
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := e.filterClauses(req)

	base := `WITH fts AS (
			SELECT rowid AS id, bm25(assets_fts) AS rank
			FROM assets_fts WHERE assets_fts MATCH ?
		UNION ALL
			SELECT rowid AS id, bm25(asset_metadata_fts) + ` + floatLit(metadataRankBias) + ` AS rank
			FROM asset_metadata_fts WHERE asset_metadata_fts MATCH ?
		),
		best AS (SELECT id, MIN(rank) AS rank FROM fts GROUP BY id)
		`
	fullArgs := append([]any{match, match}, args...)

	var total *int64
	if req.WithTotal {
		countQuery := base + `SELECT COUNT(*) FROM best
			JOIN assets a ON a.id = best.id
			LEFT JOIN asset_metadata m ON m.asset_id = a.id` + where
		var n int64
		if err := e.store.QueryRow(ctx, countQuery, fullArgs...).Scan(&n); err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "count search matches")
		}
		total = &n
	}

	query := base + `SELECT ` + assetCols + `, best.rank
		FROM best
		JOIN assets a ON a.id = best.id
		LEFT JOIN asset_metadata m ON m.asset_id = a.id` + where + `
		ORDER BY best.rank, a.mtime DESC, a.id
		LIMIT ? OFFSET ?`
	rows, err := e.store.Query(ctx, query, append(fullArgs, limit, offset)...)
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "search query")
	}
	defer rows.Close()

	resp := &Response{Total: total}
	for rows.Next() {
		a, rank, err := scanHit(rows)
		if err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan search row")
		}
		resp.Hits = append(resp.Hits, Hit{Asset: a, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "iterate search rows")
	}
	return resp, nil
}

// filterClauses builds the WHERE tail shared by search and count.
func (e *Engine) filterClauses(req Request) (string, []any) {
	var clauses []string
	var args []any

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
	if req.Source != "" {
		clauses = append(clauses, "a.source = ?")
		args = append(args, string(req.Source))
	}
	if req.RootID != nil {
		clauses = append(clauses, "a.root_id = ?")
		args = append(args, *req.RootID)
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

func scanHit(row interface{ Scan(...any) error }) (*types.Asset, float64, error) {
	var a types.Asset
	var rootID, tagsJSON, quality, raw string
	var hasWF, hasGen int
	var rank float64
	err := row.Scan(
		&a.ID, &a.Filepath, &a.Filename, &a.Subfolder, &a.Source, &rootID,
		&a.Kind, &a.Ext, &a.Size, &a.Mtime, &a.Width, &a.Height, &a.Duration,
		&a.CreatedAt, &a.UpdatedAt, &a.IndexedAt, &a.ContentHash, &a.PHash, &a.HashState,
		&a.Rating, &tagsJSON, &hasWF, &hasGen, &quality, &raw, &rank,
	)
	if err != nil {
		return nil, 0, err
	}
	if rootID != "" {
		a.RootID = &rootID
	}
	a.Tags = types.ParseTagsJSON(tagsJSON)
	a.HasWorkflow = hasWF != 0
	a.HasGenerationData = hasGen != 0
	a.MetadataQuality = types.Quality(quality)
	a.MetadataRaw = raw
	return &a, rank, nil
}

func floatLit(f float64) string {
	// Fixed constant interpolated into SQL, never user input.
	return strconv.FormatFloat(f, 'f', 1, 64)
}
