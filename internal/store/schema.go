package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// SchemaVersion is the current target schema version.
const SchemaVersion = 8

// identRe is the strict grammar every identifier interpolated into DDL
// must satisfy. Identifiers are validated, never parameterized.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) error {
	if !identRe.MatchString(name) {
		return mjrerr.New(mjrerr.CodeInvalidInput, "invalid identifier %q", name)
	}
	return nil
}

// tableDDL declares every base table. Creation is idempotent.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filepath TEXT NOT NULL,
		filename TEXT NOT NULL,
		subfolder TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'output',
		root_id TEXT,
		kind TEXT NOT NULL DEFAULT 'unknown',
		ext TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		mtime REAL NOT NULL DEFAULT 0,
		width INTEGER,
		height INTEGER,
		duration REAL,
		created_at REAL NOT NULL DEFAULT 0,
		updated_at REAL NOT NULL DEFAULT 0,
		indexed_at REAL NOT NULL DEFAULT 0,
		content_hash TEXT,
		phash TEXT,
		hash_state TEXT,
		UNIQUE(filepath, source, root_id)
	);`,

	`CREATE TABLE IF NOT EXISTS asset_metadata (
		asset_id INTEGER PRIMARY KEY REFERENCES assets(id) ON DELETE CASCADE,
		rating INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		tags_text TEXT NOT NULL DEFAULT '',
		workflow_hash TEXT,
		has_workflow INTEGER NOT NULL DEFAULT 0,
		has_generation_data INTEGER NOT NULL DEFAULT 0,
		metadata_quality TEXT NOT NULL DEFAULT 'none',
		metadata_raw TEXT
	);`,

	`CREATE TABLE IF NOT EXISTS scan_journal (
		filepath TEXT PRIMARY KEY,
		dir_path TEXT NOT NULL DEFAULT '',
		state_hash TEXT NOT NULL,
		mtime REAL NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		last_seen REAL NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE IF NOT EXISTS metadata_cache (
		filepath TEXT PRIMARY KEY,
		state_hash TEXT NOT NULL,
		metadata_hash TEXT NOT NULL DEFAULT '',
		metadata_raw TEXT,
		last_updated REAL NOT NULL DEFAULT 0
	);`,
}

// assetColumns lists (table, column, declaration) triples checked by
// ensureColumnsExist. Older databases predate some of these.
var assetColumns = []struct {
	table, column, decl string
}{
	{"assets", "root_id", "TEXT"},
	{"assets", "duration", "REAL"},
	{"assets", "content_hash", "TEXT"},
	{"assets", "phash", "TEXT"},
	{"assets", "hash_state", "TEXT"},
	{"asset_metadata", "tags_text", "TEXT NOT NULL DEFAULT ''"},
	{"asset_metadata", "workflow_hash", "TEXT"},
	{"asset_metadata", "metadata_quality", "TEXT NOT NULL DEFAULT 'none'"},
	{"scan_journal", "dir_path", "TEXT NOT NULL DEFAULT ''"},
	{"metadata_cache", "metadata_hash", "TEXT NOT NULL DEFAULT ''"},
}

// indexDDL declares the secondary indexes.
var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_assets_filename ON assets(filename);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_subfolder ON assets(subfolder);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_kind ON assets(kind);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_mtime ON assets(mtime);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_kind_mtime ON assets(kind, mtime);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_source ON assets(source);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_root_id ON assets(root_id);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_source_root ON assets(source, root_id);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_source_mtime ON assets(source, mtime DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_content_hash ON assets(content_hash);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_phash ON assets(phash);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_hash_state ON assets(hash_state);`,
	`CREATE INDEX IF NOT EXISTS idx_meta_has_workflow ON asset_metadata(has_workflow) WHERE has_workflow = 1;`,
	`CREATE INDEX IF NOT EXISTS idx_meta_has_gen ON asset_metadata(has_generation_data) WHERE has_generation_data = 1;`,
	`CREATE INDEX IF NOT EXISTS idx_assets_list_cover ON assets(source, mtime DESC, id, filename, filepath, kind);`,
	`CREATE INDEX IF NOT EXISTS idx_journal_dir ON scan_journal(dir_path);`,
}

// assetsFTSDDL declares filename/subfolder FTS as external content over
// the assets table.
const assetsFTSDDL = `CREATE VIRTUAL TABLE IF NOT EXISTS assets_fts USING fts5(
	filename, subfolder,
	content='assets', content_rowid='id'
);`

// metadataFTSDDL declares metadata FTS as a contentless table; rows are
// maintained solely by the asset_metadata triggers.
const metadataFTSDDL = `CREATE VIRTUAL TABLE IF NOT EXISTS asset_metadata_fts USING fts5(
	tags, tags_text, metadata_text,
	content=''
);`

// triggerDDL keeps both FTS tables in sync with their base tables. The
// metadata FTS update is a delete+insert pair; contentless FTS tables
// reject UPDATE.
var triggerDDL = []string{
	`CREATE TRIGGER IF NOT EXISTS assets_fts_ai AFTER INSERT ON assets BEGIN
		INSERT INTO assets_fts(rowid, filename, subfolder) VALUES (new.id, new.filename, new.subfolder);
	END;`,
	`CREATE TRIGGER IF NOT EXISTS assets_fts_ad AFTER DELETE ON assets BEGIN
		INSERT INTO assets_fts(assets_fts, rowid, filename, subfolder) VALUES ('delete', old.id, old.filename, old.subfolder);
	END;`,
	`CREATE TRIGGER IF NOT EXISTS assets_fts_au AFTER UPDATE ON assets BEGIN
		INSERT INTO assets_fts(assets_fts, rowid, filename, subfolder) VALUES ('delete', old.id, old.filename, old.subfolder);
		INSERT INTO assets_fts(rowid, filename, subfolder) VALUES (new.id, new.filename, new.subfolder);
	END;`,

	`CREATE TRIGGER IF NOT EXISTS asset_metadata_fts_ai AFTER INSERT ON asset_metadata BEGIN
		INSERT INTO asset_metadata_fts(rowid, tags, tags_text, metadata_text)
		VALUES (new.asset_id, new.tags, new.tags_text, COALESCE(new.metadata_raw, ''));
	END;`,
	`CREATE TRIGGER IF NOT EXISTS asset_metadata_fts_ad AFTER DELETE ON asset_metadata BEGIN
		INSERT INTO asset_metadata_fts(asset_metadata_fts, rowid, tags, tags_text, metadata_text)
		VALUES ('delete', old.asset_id, old.tags, old.tags_text, COALESCE(old.metadata_raw, ''));
	END;`,
	`CREATE TRIGGER IF NOT EXISTS asset_metadata_fts_au AFTER UPDATE ON asset_metadata BEGIN
		INSERT INTO asset_metadata_fts(asset_metadata_fts, rowid, tags, tags_text, metadata_text)
		VALUES ('delete', old.asset_id, old.tags, old.tags_text, COALESCE(old.metadata_raw, ''));
		INSERT INTO asset_metadata_fts(rowid, tags, tags_text, metadata_text)
		VALUES (new.asset_id, new.tags, new.tags_text, COALESCE(new.metadata_raw, ''));
	END;`,
}

// InitSchema creates all tables, FTS tables, indexes and triggers.
// Safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := append([]string{}, tableDDL...)
	ddl = append(ddl, assetsFTSDDL, metadataFTSDDL)
	ddl = append(ddl, indexDDL...)
	ddl = append(ddl, triggerDDL...)
	for _, stmt := range ddl {
		if _, _, err := s.Execute(ctx, stmt); err != nil {
			return mjrerr.Wrap(mjrerr.CodeDBError, err, "init schema")
		}
	}
	return nil
}

// EnsureColumnsExist adds any declared column missing from an existing
// table. ALTER TABLE ADD COLUMN is the only mutation issued.
func (s *Store) EnsureColumnsExist(ctx context.Context) error {
	for _, col := range assetColumns {
		if err := validIdent(col.table); err != nil {
			return err
		}
		if err := validIdent(col.column); err != nil {
			return err
		}
		exists, err := s.columnExists(ctx, col.table, col.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		s.log.Info("schema: adding missing column",
			zap.String("table", col.table), zap.String("column", col.column))
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.column, col.decl)
		if _, _, err := s.Execute(ctx, stmt); err != nil {
			return mjrerr.Wrap(mjrerr.CodeDBError, err, "add column %s.%s", col.table, col.column)
		}
	}
	return nil
}

func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	if err := validIdent(table); err != nil {
		return false, err
	}
	rows, err := s.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, Error.Wrap(err)
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, Error.Wrap(rows.Err())
}

// EnsureIndexesAndTriggers creates missing indexes/triggers and then
// runs the FTS repair pass.
func (s *Store) EnsureIndexesAndTriggers(ctx context.Context) error {
	for _, stmt := range indexDDL {
		if _, _, err := s.Execute(ctx, stmt); err != nil {
			return mjrerr.Wrap(mjrerr.CodeDBError, err, "create index")
		}
	}
	for _, stmt := range triggerDDL {
		if _, _, err := s.Execute(ctx, stmt); err != nil {
			return mjrerr.Wrap(mjrerr.CodeDBError, err, "create trigger")
		}
	}
	return s.RepairMetadataFTS(ctx)
}

// MigrateSchema brings the database to the current schema version.
// Fingerprint drift is logged, never fatal; an FTS repair failure is
// logged and the rest of the migration still completes.
func (s *Store) MigrateSchema(ctx context.Context) error {
	current, err := s.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}

	if err := s.InitSchema(ctx); err != nil {
		return err
	}
	if err := s.EnsureColumnsExist(ctx); err != nil {
		return err
	}
	if err := s.EnsureIndexesAndTriggers(ctx); err != nil {
		// FTS repair is self-contained; schema can function degraded.
		if mjrerr.Is(err, mjrerr.CodeFTSRepairFailed) {
			s.log.Warn("schema: fts repair failed, continuing", zap.Error(err))
		} else {
			return err
		}
	}

	if err := s.SetSchemaVersion(ctx, SchemaVersion); err != nil {
		return err
	}

	fingerprint := SchemaFingerprint()
	stored, ok, err := s.GetMeta(ctx, KeySchemaDDLHash)
	if err != nil {
		return err
	}
	if ok && stored != fingerprint {
		s.log.Warn("schema: DDL fingerprint drift",
			zap.String("stored", stored), zap.String("declared", fingerprint))
	}
	if err := s.SetMeta(ctx, KeySchemaDDLHash, fingerprint); err != nil {
		return err
	}

	if current != SchemaVersion {
		s.log.Info("schema: migrated",
			zap.Int("from", current), zap.Int("to", SchemaVersion))
	}
	return nil
}

// SchemaFingerprint hashes the declared DDL for drift diagnostics.
func SchemaFingerprint() string {
	h := sha256.New()
	write := func(stmts []string) {
		for _, stmt := range stmts {
			h.Write([]byte(normalizeDDL(stmt)))
			h.Write([]byte{0})
		}
	}
	write(tableDDL)
	write([]string{assetsFTSDDL, metadataFTSDDL})
	write(indexDDL)
	write(triggerDDL)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeDDL(stmt string) string {
	return strings.Join(strings.Fields(stmt), " ")
}
