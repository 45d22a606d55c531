package store

import (
	"context"
	"time"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// JournalEntry is the scan journal row for one file: the state hash
// seen on the last scan plus the stat facts behind it.
type JournalEntry struct {
	Filepath  string
	DirPath   string
	StateHash string
	Mtime     float64
	Size      int64
	LastSeen  float64
}

// JournalEntries prefetches journal rows for a batch of paths.
func (s *Store) JournalEntries(ctx context.Context, paths []string) (map[string]JournalEntry, error) {
	out := make(map[string]JournalEntry, len(paths))
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
		rows, err := s.Query(ctx, `SELECT filepath, dir_path, state_hash, mtime, size, last_seen
			FROM scan_journal WHERE filepath IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "prefetch journal for %d paths", len(chunk))
		}
		for rows.Next() {
			var e JournalEntry
			if err := rows.Scan(&e.Filepath, &e.DirPath, &e.StateHash, &e.Mtime, &e.Size, &e.LastSeen); err != nil {
				rows.Close()
				return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan journal row")
			}
			out[e.Filepath] = e
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "iterate journal")
		}
		rows.Close()
	}
	return out, nil
}

// UpsertJournal writes journal rows for a scanned batch in one
// multi-row statement per chunk.
func (s *Store) UpsertJournal(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := float64(time.Now().UnixNano()) / 1e9
	batch := make([][]any, 0, len(entries))
	for _, e := range entries {
		if e.LastSeen == 0 {
			e.LastSeen = now
		}
		batch = append(batch, []any{e.Filepath, e.DirPath, e.StateHash, e.Mtime, e.Size, e.LastSeen})
	}
	_, err := s.ExecuteMany(ctx, `INSERT INTO scan_journal
		(filepath, dir_path, state_hash, mtime, size, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			dir_path = excluded.dir_path,
			state_hash = excluded.state_hash,
			mtime = excluded.mtime,
			size = excluded.size,
			last_seen = excluded.last_seen`, batch)
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeDBError, err, "upsert %d journal rows", len(entries))
	}
	return nil
}

// DeleteJournal removes the journal row for one path.
func (s *Store) DeleteJournal(ctx context.Context, path string) error {
	_, _, err := s.Execute(ctx, `DELETE FROM scan_journal WHERE filepath = ?`, path)
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeDBError, err, "delete journal row %s", path)
	}
	return nil
}

// StaleJournalPaths returns journaled paths under a directory whose
// last_seen predates the given scan start. Used to detect deletions
// after a full directory walk.
func (s *Store) StaleJournalPaths(ctx context.Context, dir string, before time.Time) ([]string, error) {
	pattern := EscapeLike(dir) + "/%"
	cutoff := float64(before.UnixNano()) / 1e9
	rows, err := s.Query(ctx, `SELECT filepath FROM scan_journal
		WHERE filepath LIKE ? ESCAPE '\' AND last_seen < ?`, pattern, cutoff)
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "stale journal scan under %s", dir)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "scan journal path")
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
