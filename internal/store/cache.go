package store

import (
	"context"
	"time"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// CacheEntry is one metadata_cache row: the serialized extraction
// result keyed by the file's state hash. A hit means the file is
// byte-for-byte the one we extracted from and the stored document can
// be reused without running the probe tools.
type CacheEntry struct {
	Filepath     string
	StateHash    string
	MetadataHash string
	MetadataRaw  string
	LastUpdated  float64
}

// CacheEntries prefetches cache rows for a batch of paths.
func (s *Store) CacheEntries(ctx context.Context, paths []string) (map[string]CacheEntry, error) {
	out := make(map[string]CacheEntry, len(paths))
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
		rows, err := s.Query(ctx, `SELECT filepath, state_hash, metadata_hash,
			COALESCE(metadata_raw, ''), last_updated
			FROM metadata_cache WHERE filepath IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "prefetch cache for %d paths", len(chunk))
		}
		for rows.Next() {
			var e CacheEntry
			if err := rows.Scan(&e.Filepath, &e.StateHash, &e.MetadataHash, &e.MetadataRaw, &e.LastUpdated); err != nil {
				rows.Close()
				return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan cache row")
			}
			out[e.Filepath] = e
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "iterate cache")
		}
		rows.Close()
	}
	return out, nil
}

// UpsertCache writes cache rows write-through after extraction.
func (s *Store) UpsertCache(ctx context.Context, entries []CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := float64(time.Now().UnixNano()) / 1e9
	batch := make([][]any, 0, len(entries))
	for _, e := range entries {
		if e.LastUpdated == 0 {
			e.LastUpdated = now
		}
		batch = append(batch, []any{e.Filepath, e.StateHash, e.MetadataHash, nullIfEmpty(e.MetadataRaw), e.LastUpdated})
	}
	_, err := s.ExecuteMany(ctx, `INSERT INTO metadata_cache
		(filepath, state_hash, metadata_hash, metadata_raw, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			state_hash = excluded.state_hash,
			metadata_hash = excluded.metadata_hash,
			metadata_raw = excluded.metadata_raw,
			last_updated = excluded.last_updated`, batch)
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeDBError, err, "upsert %d cache rows", len(entries))
	}
	return nil
}

// DeleteCache removes the cache row for one path.
func (s *Store) DeleteCache(ctx context.Context, path string) error {
	_, _, err := s.Execute(ctx, `DELETE FROM metadata_cache WHERE filepath = ?`, path)
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeDBError, err, "delete cache row %s", path)
	}
	return nil
}
