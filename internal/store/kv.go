package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// Well-known keys in the metadata table.
const (
	KeySchemaVersion = "schema_version"
	KeySchemaDDLHash = "schema_ddl_hash"
	KeyLastScanEnd   = "last_scan_end"
	KeyLastIndexEnd  = "last_index_end"
	KeyWatcherScope  = "watcher_scope"
	KeyProbeBackend  = "probe_backend"
)

// GetMeta reads a metadata value. Missing keys return ok=false.
func (s *Store) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.QueryRow(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, Error.Wrap(err)
	}
	return value, true, nil
}

// SetMeta upserts a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, _, err := s.Execute(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// SetMetaTime stores a timestamp key as unix seconds.
func (s *Store) SetMetaTime(ctx context.Context, key string, t time.Time) error {
	return s.SetMeta(ctx, key, strconv.FormatInt(t.Unix(), 10))
}

// GetSchemaVersion returns the stored schema version, 0 when unset.
func (s *Store) GetSchemaVersion(ctx context.Context) (int, error) {
	has, err := s.HasTable(ctx, "metadata")
	if err != nil || !has {
		return 0, err
	}
	v, ok, err := s.GetMeta(ctx, KeySchemaVersion)
	if err != nil || !ok {
		return 0, err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}

// SetSchemaVersion stores the schema version.
func (s *Store) SetSchemaVersion(ctx context.Context, version int) error {
	return s.SetMeta(ctx, KeySchemaVersion, strconv.Itoa(version))
}
