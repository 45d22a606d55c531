package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// RepairMetadataFTS detects legacy asset_metadata_fts definitions and
// rebuilds the table plus its triggers. Three shapes are repaired:
//
//  1. external-content configs carrying content_rowid='asset_id'
//     (the table predates the contentless design),
//  2. a column set missing tags_text,
//  3. triggers issuing UPDATE against the FTS table, which contentless
//     FTS5 rejects at runtime.
//
// Destructive DDL only runs after the legacy shape is positively
// identified, inside one IMMEDIATE transaction. asset_metadata itself
// is never dropped.
func (s *Store) RepairMetadataFTS(ctx context.Context) error {
	ddl, err := s.objectSQL(ctx, "table", "asset_metadata_fts")
	if err != nil {
		return err
	}
	if ddl == "" {
		// Table missing entirely; plain create handles it.
		if _, _, err := s.Execute(ctx, metadataFTSDDL); err != nil {
			return mjrerr.Wrap(mjrerr.CodeFTSRepairFailed, err, "create asset_metadata_fts")
		}
		return nil
	}

	legacy := s.isLegacyFTS(ddl)
	if !legacy {
		legacy, err = s.hasLegacyTrigger(ctx)
		if err != nil {
			return err
		}
	}
	if !legacy {
		return nil
	}

	s.log.Info("schema: rebuilding legacy asset_metadata_fts")

	err = s.WithTx(ctx, func(ctx context.Context) error {
		drops := []string{
			`DROP TRIGGER IF EXISTS asset_metadata_fts_ai`,
			`DROP TRIGGER IF EXISTS asset_metadata_fts_ad`,
			`DROP TRIGGER IF EXISTS asset_metadata_fts_au`,
			`DROP TABLE IF EXISTS asset_metadata_fts`,
		}
		for _, stmt := range drops {
			if _, _, err := s.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		if _, _, err := s.Execute(ctx, metadataFTSDDL); err != nil {
			return err
		}
		for _, stmt := range triggerDDL {
			if !strings.Contains(stmt, "asset_metadata_fts") {
				continue
			}
			if _, _, err := s.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		// Repopulate from the base table.
		_, _, err := s.Execute(ctx, `
			INSERT INTO asset_metadata_fts(rowid, tags, tags_text, metadata_text)
			SELECT asset_id, tags, tags_text, COALESCE(metadata_raw, '') FROM asset_metadata`)
		return err
	})
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeFTSRepairFailed, err, "rebuild asset_metadata_fts")
	}
	return nil
}

// isLegacyFTS inspects the virtual table DDL for outdated shapes.
func (s *Store) isLegacyFTS(ddl string) bool {
	lower := strings.ToLower(ddl)
	if strings.Contains(lower, "content_rowid='asset_id'") ||
		strings.Contains(lower, `content_rowid="asset_id"`) {
		return true
	}
	if !strings.Contains(lower, "tags_text") {
		return true
	}
	return false
}

// hasLegacyTrigger reports whether any metadata FTS trigger still uses
// UPDATE against the FTS table.
func (s *Store) hasLegacyTrigger(ctx context.Context) (bool, error) {
	for _, name := range []string{"asset_metadata_fts_ai", "asset_metadata_fts_ad", "asset_metadata_fts_au"} {
		ddl, err := s.objectSQL(ctx, "trigger", name)
		if err != nil {
			return false, err
		}
		if ddl == "" {
			continue
		}
		lower := strings.ToLower(ddl)
		if strings.Contains(lower, "update asset_metadata_fts") ||
			strings.Contains(lower, "update  asset_metadata_fts") {
			return true, nil
		}
	}
	return false, nil
}

// objectSQL returns the stored DDL for a schema object, "" if absent.
func (s *Store) objectSQL(ctx context.Context, objType, name string) (string, error) {
	if err := validIdent(name); err != nil {
		return "", err
	}
	var ddl sql.NullString
	err := s.QueryRow(ctx,
		`SELECT sql FROM sqlite_master WHERE type = ? AND name = ?`,
		objType, name).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", Error.Wrap(err)
	}
	return ddl.String, nil
}

// RebuildFTS rebuilds the assets FTS index from its content table and
// runs the metadata FTS repair.
func (s *Store) RebuildFTS(ctx context.Context) error {
	if _, _, err := s.Execute(ctx, `INSERT INTO assets_fts(assets_fts) VALUES('rebuild')`); err != nil {
		return mjrerr.Wrap(mjrerr.CodeFTSRepairFailed, err, "rebuild assets_fts")
	}
	if err := s.RepairMetadataFTS(ctx); err != nil {
		return err
	}
	s.log.Info("schema: fts rebuilt", zap.String("table", "assets_fts"))
	return nil
}
