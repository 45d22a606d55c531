package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// assetCols is the column list every asset read uses, joined with the
// metadata row so callers get ratings and tags in one pass.
const assetCols = `a.id, a.filepath, a.filename, a.subfolder, a.source, a.root_id,
	a.kind, a.ext, a.size, a.mtime, a.width, a.height, a.duration,
	a.created_at, a.updated_at, a.indexed_at, a.content_hash, a.phash, a.hash_state,
	COALESCE(m.rating, 0), COALESCE(m.tags, '[]'),
	COALESCE(m.has_workflow, 0), COALESCE(m.has_generation_data, 0),
	COALESCE(m.metadata_quality, 'none'), COALESCE(m.metadata_raw, '')`

const assetFrom = ` FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id`

// rootIDValue maps the optional root id onto the stored value. The
// column participates in the assets unique constraint, and SQLite
// treats NULLs as distinct there, so absence is stored as ”.
func rootIDValue(rootID *string) string {
	if rootID == nil {
		return ""
	}
	return *rootID
}

func rootIDPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanAsset(row interface{ Scan(...any) error }) (*types.Asset, error) {
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
	a.RootID = rootIDPtr(rootID)
	a.Tags = types.ParseTagsJSON(tagsJSON)
	a.HasWorkflow = hasWF != 0
	a.HasGenerationData = hasGen != 0
	a.MetadataQuality = types.Quality(quality)
	a.MetadataRaw = raw
	return &a, nil
}

// UpsertAsset inserts or refreshes one asset row keyed by
// (filepath, source, root_id). Returns the row id and whether the row
// was newly created.
func (s *Store) UpsertAsset(ctx context.Context, a *types.Asset) (id int64, created bool, err error) {
	now := float64(time.Now().UnixNano()) / 1e9
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}

	var existing int64
	err = s.QueryRow(ctx,
		`SELECT id FROM assets WHERE filepath = ? AND source = ? AND root_id = ?`,
		a.Filepath, string(a.Source), rootIDValue(a.RootID),
	).Scan(&existing)
	switch {
	case err == nil:
		_, _, err = s.Execute(ctx, `UPDATE assets SET
			filename = ?, subfolder = ?, kind = ?, ext = ?, size = ?, mtime = ?,
			width = COALESCE(?, width), height = COALESCE(?, height),
			duration = COALESCE(?, duration),
			updated_at = ?, indexed_at = ?, hash_state = ?
			WHERE id = ?`,
			a.Filename, a.Subfolder, string(a.Kind), a.Ext, a.Size, a.Mtime,
			a.Width, a.Height, a.Duration,
			now, now, a.HashState, existing)
		if err != nil {
			return 0, false, mjrerr.Wrap(mjrerr.CodeUpdateFailed, err, "update asset %s", a.Filepath)
		}
		a.ID = existing
		return existing, false, nil

	case err == sql.ErrNoRows:
		id, _, err = s.Execute(ctx, `INSERT INTO assets
			(filepath, filename, subfolder, source, root_id, kind, ext, size, mtime,
			 width, height, duration, created_at, updated_at, indexed_at, hash_state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.Filepath, a.Filename, a.Subfolder, string(a.Source), rootIDValue(a.RootID),
			string(a.Kind), a.Ext, a.Size, a.Mtime,
			a.Width, a.Height, a.Duration, a.CreatedAt, now, now, a.HashState)
		if err != nil {
			return 0, false, mjrerr.Wrap(mjrerr.CodeInsertFailed, err, "insert asset %s", a.Filepath)
		}
		a.ID = id
		return id, true, nil

	default:
		return 0, false, mjrerr.Wrap(mjrerr.CodeDBError, err, "lookup asset %s", a.Filepath)
	}
}

// MetadataUpsert is the asset_metadata payload for one asset.
type MetadataUpsert struct {
	AssetID           int64
	Rating            int
	Tags              []string
	WorkflowHash      string
	HasWorkflow       bool
	HasGenerationData bool
	Quality           types.Quality
	Raw               string
}

// UpsertAssetMetadata writes the metadata row. User-set fields survive
// re-extraction: a stored non-zero rating and non-empty tags are kept
// over freshly extracted values.
func (s *Store) UpsertAssetMetadata(ctx context.Context, m MetadataUpsert) error {
	_, _, err := s.Execute(ctx, `INSERT INTO asset_metadata
		(asset_id, rating, tags, tags_text, workflow_hash, has_workflow,
		 has_generation_data, metadata_quality, metadata_raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			rating = CASE WHEN asset_metadata.rating != 0 THEN asset_metadata.rating ELSE excluded.rating END,
			tags = CASE WHEN asset_metadata.tags != '[]' AND asset_metadata.tags != '' THEN asset_metadata.tags ELSE excluded.tags END,
			tags_text = CASE WHEN asset_metadata.tags != '[]' AND asset_metadata.tags != '' THEN asset_metadata.tags_text ELSE excluded.tags_text END,
			workflow_hash = excluded.workflow_hash,
			has_workflow = excluded.has_workflow,
			has_generation_data = excluded.has_generation_data,
			metadata_quality = excluded.metadata_quality,
			metadata_raw = excluded.metadata_raw`,
		m.AssetID, m.Rating, types.TagsJSON(m.Tags), strings.Join(m.Tags, " "),
		nullIfEmpty(m.WorkflowHash), boolInt(m.HasWorkflow), boolInt(m.HasGenerationData),
		string(m.Quality), nullIfEmpty(m.Raw))
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeUpdateFailed, err, "upsert metadata for asset %d", m.AssetID)
	}
	return nil
}

// SetRating overwrites the user rating for one asset, creating the
// metadata row when missing.
func (s *Store) SetRating(ctx context.Context, assetID int64, rating int) error {
	_, _, err := s.Execute(ctx, `INSERT INTO asset_metadata (asset_id, rating)
		VALUES (?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET rating = excluded.rating`,
		assetID, rating)
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeUpdateFailed, err, "set rating for asset %d", assetID)
	}
	return nil
}

// SetTags overwrites the user tags for one asset.
func (s *Store) SetTags(ctx context.Context, assetID int64, tags []string) error {
	_, _, err := s.Execute(ctx, `INSERT INTO asset_metadata (asset_id, tags, tags_text)
		VALUES (?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET tags = excluded.tags, tags_text = excluded.tags_text`,
		assetID, types.TagsJSON(tags), strings.Join(tags, " "))
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeUpdateFailed, err, "set tags for asset %d", assetID)
	}
	return nil
}

// SetMetadataRaw replaces just the stored raw document, used by the
// opportunistic re-parse path.
func (s *Store) SetMetadataRaw(ctx context.Context, assetID int64, quality types.Quality, raw string) error {
	_, _, err := s.Execute(ctx, `UPDATE asset_metadata
		SET metadata_quality = ?, metadata_raw = ? WHERE asset_id = ?`,
		string(quality), nullIfEmpty(raw), assetID)
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeUpdateFailed, err, "replace metadata for asset %d", assetID)
	}
	return nil
}

// GetAsset fetches one asset with its metadata columns.
func (s *Store) GetAsset(ctx context.Context, id int64) (*types.Asset, error) {
	a, err := scanAsset(s.QueryRow(ctx, `SELECT `+assetCols+assetFrom+` WHERE a.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, mjrerr.New(mjrerr.CodeNotFound, "asset %d not found", id)
	}
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "get asset %d", id)
	}
	return a, nil
}

// GetAssets fetches many assets by id, returned in the order of ids.
// Missing ids are silently dropped.
func (s *Store) GetAssets(ctx context.Context, ids []int64) ([]*types.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.Query(ctx,
		`SELECT `+assetCols+assetFrom+` WHERE a.id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "get %d assets", len(ids))
	}
	defer rows.Close()

	byID := make(map[int64]*types.Asset, len(ids))
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan asset row")
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "iterate assets")
	}

	out := make([]*types.Asset, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// LookupByFilepaths resolves absolute paths to assets. The result maps
// only paths that exist in the index.
func (s *Store) LookupByFilepaths(ctx context.Context, paths []string) (map[string]*types.Asset, error) {
	out := make(map[string]*types.Asset, len(paths))
	for start := 0; start < len(paths); start += maxInClause {
		end := start + maxInClause
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]
		args := make([]any, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}
		rows, err := s.Query(ctx,
			`SELECT `+assetCols+assetFrom+` WHERE a.filepath IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "lookup %d filepaths", len(chunk))
		}
		for rows.Next() {
			a, err := scanAsset(rows)
			if err != nil {
				rows.Close()
				return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan asset row")
			}
			out[a.Filepath] = a
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "iterate filepaths")
		}
		rows.Close()
	}
	return out, nil
}

// DeleteAsset removes one asset; the metadata row cascades.
func (s *Store) DeleteAsset(ctx context.Context, id int64) (bool, error) {
	_, affected, err := s.Execute(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return false, mjrerr.Wrap(mjrerr.CodeDBError, err, "delete asset %d", id)
	}
	return affected > 0, nil
}

// DeleteByFilepath removes the asset indexed at an exact path.
func (s *Store) DeleteByFilepath(ctx context.Context, path string) (int64, error) {
	_, affected, err := s.Execute(ctx, `DELETE FROM assets WHERE filepath = ?`, path)
	if err != nil {
		return 0, mjrerr.Wrap(mjrerr.CodeDBError, err, "delete asset at %s", path)
	}
	return affected, nil
}

// DeleteUnderPrefix removes every asset below a directory, plus the
// matching journal and cache rows. The LIKE pattern is escaped so
// literal % and _ in paths cannot widen the match.
func (s *Store) DeleteUnderPrefix(ctx context.Context, dir string) (int64, error) {
	pattern := EscapeLike(strings.TrimRight(dir, "/")) + "/%"
	var total int64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		_, affected, err := s.Execute(ctx,
			`DELETE FROM assets WHERE filepath LIKE ? ESCAPE '\'`, pattern)
		if err != nil {
			return err
		}
		total = affected
		if _, _, err := s.Execute(ctx,
			`DELETE FROM scan_journal WHERE filepath LIKE ? ESCAPE '\'`, pattern); err != nil {
			return err
		}
		_, _, err = s.Execute(ctx,
			`DELETE FROM metadata_cache WHERE filepath LIKE ? ESCAPE '\'`, pattern)
		return err
	})
	if err != nil {
		return 0, mjrerr.Wrap(mjrerr.CodeDBError, err, "delete under %s", dir)
	}
	return total, nil
}

// HasAssetsUnder reports whether any asset lives below a directory.
func (s *Store) HasAssetsUnder(ctx context.Context, dir string) (bool, error) {
	pattern := EscapeLike(strings.TrimRight(dir, "/")) + "/%"
	var one int
	err := s.QueryRow(ctx,
		`SELECT 1 FROM assets WHERE filepath LIKE ? ESCAPE '\' LIMIT 1`, pattern).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, mjrerr.Wrap(mjrerr.CodeDBError, err, "probe assets under %s", dir)
	}
	return true, nil
}

// Counts summarizes the index for status reporting.
type Counts struct {
	Assets      int64 `json:"assets"`
	WithRating  int64 `json:"with_rating"`
	WithTags    int64 `json:"with_tags"`
	WithGenData int64 `json:"with_generation_data"`
}

// CountAssets gathers the status counters in one query.
func (s *Store) CountAssets(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM assets),
		(SELECT COUNT(*) FROM asset_metadata WHERE rating > 0),
		(SELECT COUNT(*) FROM asset_metadata WHERE tags != '[]' AND tags != ''),
		(SELECT COUNT(*) FROM asset_metadata WHERE has_generation_data = 1)`).
		Scan(&c.Assets, &c.WithRating, &c.WithTags, &c.WithGenData)
	if err != nil {
		return Counts{}, mjrerr.Wrap(mjrerr.CodeDBError, err, "count assets")
	}
	return c, nil
}

// AllTags aggregates every distinct stored tag with usage counts,
// ordered by count descending then name.
func (s *Store) AllTags(ctx context.Context) (map[string]int, error) {
	rows, err := s.Query(ctx,
		`SELECT tags FROM asset_metadata WHERE tags != '[]' AND tags != ''`)
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "list tags")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan tags row")
		}
		for _, t := range types.ParseTagsJSON(raw) {
			counts[t]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "iterate tags")
	}
	return counts, nil
}

// maxInClause bounds IN (...) parameter lists; SQLite's default
// variable limit is 999.
const maxInClause = 500

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// EscapeLike escapes %, _ and the escape character itself for LIKE
// patterns using backslash escaping.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
