package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.sqlite")
	s, err := Open(path, Options{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.MigrateSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAsset(ctx context.Context, t *testing.T, s *Store, path string) int64 {
	t.Helper()
	now := float64(time.Now().UnixNano()) / 1e9
	id, created, err := s.UpsertAsset(ctx, &types.Asset{
		Filepath: path,
		Filename: filepath.Base(path),
		Source:   types.SourceOutput,
		Kind:     types.KindImage,
		Ext:      "png",
		Size:     100,
		Mtime:    now,
	})
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func TestSchema_InitIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A second migration run is a no-op.
	require.NoError(t, s.MigrateSchema(ctx))

	v, err := s.GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	for _, table := range []string{"assets", "asset_metadata", "scan_journal", "metadata_cache", "metadata"} {
		ok, err := s.HasTable(ctx, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
}

func TestUpsertAsset_UpdateKeepsIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seedAsset(ctx, t, s, "/out/a.png")

	w, h := 512, 768
	id2, created, err := s.UpsertAsset(ctx, &types.Asset{
		Filepath: "/out/a.png",
		Filename: "a.png",
		Source:   types.SourceOutput,
		Kind:     types.KindImage,
		Ext:      "png",
		Size:     200,
		Width:    &w,
		Height:   &h,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, id2)

	a, err := s.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), a.Size)
	require.NotNil(t, a.Width)
	assert.Equal(t, 512, *a.Width)

	// An update without dimensions keeps the stored ones.
	_, _, err = s.UpsertAsset(ctx, &types.Asset{
		Filepath: "/out/a.png",
		Filename: "a.png",
		Source:   types.SourceOutput,
		Kind:     types.KindImage,
		Ext:      "png",
		Size:     300,
	})
	require.NoError(t, err)
	a, err = s.GetAsset(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, a.Width)
	assert.Equal(t, 512, *a.Width)
}

func TestUpsertAsset_RootIDSeparatesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rootA := "root_aaaa"
	rootB := "root_bbbb"
	idA, _, err := s.UpsertAsset(ctx, &types.Asset{
		Filepath: "/shared/x.png", Filename: "x.png",
		Source: types.SourceCustom, RootID: &rootA, Kind: types.KindImage, Ext: "png",
	})
	require.NoError(t, err)
	idB, _, err := s.UpsertAsset(ctx, &types.Asset{
		Filepath: "/shared/x.png", Filename: "x.png",
		Source: types.SourceCustom, RootID: &rootB, Kind: types.KindImage, Ext: "png",
	})
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	// Same path and root upserts in place.
	idA2, created, err := s.UpsertAsset(ctx, &types.Asset{
		Filepath: "/shared/x.png", Filename: "x.png",
		Source: types.SourceCustom, RootID: &rootA, Kind: types.KindImage, Ext: "png",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, idA, idA2)
}

func TestUpsertAssetMetadata_PreservesUserEdits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedAsset(ctx, t, s, "/out/a.png")

	require.NoError(t, s.SetRating(ctx, id, 4))
	require.NoError(t, s.SetTags(ctx, id, []string{"castle"}))

	// A re-extraction with no rating or tags must not clobber them.
	require.NoError(t, s.UpsertAssetMetadata(ctx, MetadataUpsert{
		AssetID:     id,
		HasWorkflow: true,
		Quality:     types.QualityFull,
		Raw:         `{"quality":"full"}`,
	}))

	a, err := s.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Rating)
	assert.Equal(t, []string{"castle"}, a.Tags)
	assert.True(t, a.HasWorkflow)

	// An explicit edit overwrites.
	require.NoError(t, s.SetRating(ctx, id, 2))
	a, err = s.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Rating)
}

func TestFTS_FindsFilenameAndMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedAsset(ctx, t, s, "/out/sunset_beach.png")
	require.NoError(t, s.SetTags(ctx, id, []string{"golden hour"}))

	var n int
	row := s.QueryRow(ctx, `SELECT count(*) FROM assets_fts WHERE assets_fts MATCH ?`, `"sunset"`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n)

	row = s.QueryRow(ctx, `SELECT count(*) FROM asset_metadata_fts WHERE asset_metadata_fts MATCH ?`, `"golden"`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n)
}

func TestFTS_DeleteRemovesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedAsset(ctx, t, s, "/out/ephemeral.png")
	require.NoError(t, s.SetTags(ctx, id, []string{"fleeting"}))

	ok, err := s.DeleteAsset(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	var n int
	row := s.QueryRow(ctx, `SELECT count(*) FROM assets_fts WHERE assets_fts MATCH ?`, `"ephemeral"`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 0, n)

	row = s.QueryRow(ctx, `SELECT count(*) FROM asset_metadata_fts WHERE asset_metadata_fts MATCH ?`, `"fleeting"`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 0, n)
}

func TestDeleteUnderPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAsset(ctx, t, s, "/out/sub/a.png")
	seedAsset(ctx, t, s, "/out/sub/b.png")
	seedAsset(ctx, t, s, "/out/subother/c.png")

	removed, err := s.DeleteUnderPrefix(ctx, "/out/sub")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// The sibling whose name merely shares the prefix survives.
	ok, err := s.HasAssetsUnder(ctx, "/out/subother")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetAsset_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAsset(context.Background(), 9999)
	assert.True(t, mjrerr.Is(err, mjrerr.CodeNotFound))
}

func TestKV_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetMeta(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMeta(ctx, "k", "v1"))
	require.NoError(t, s.SetMeta(ctx, "k", "v2"))
	v, ok, err := s.GetMeta(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestJournal_UpsertAndStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []JournalEntry{
		{Filepath: "/out/a.png", DirPath: "/out", StateHash: "h1", Mtime: 1, Size: 10},
		{Filepath: "/out/b.png", DirPath: "/out", StateHash: "h2", Mtime: 2, Size: 20},
	}
	require.NoError(t, s.UpsertJournal(ctx, entries))

	got, err := s.JournalEntries(ctx, []string{"/out/a.png", "/out/b.png", "/out/c.png"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "h1", got["/out/a.png"].StateHash)

	// Refresh only the first entry; the second falls behind the cutoff.
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.UpsertJournal(ctx, entries[:1]))

	stale, err := s.StaleJournalPaths(ctx, "/out", cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/b.png"}, stale)
}

func TestTx_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		seedAsset(ctx, t, s, "/out/tx.png")
		return mjrerr.New(mjrerr.CodeInvalidInput, "boom")
	})
	require.Error(t, err)

	counts, err := s.CountAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Assets)
}

func TestTx_Nested(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			seedAsset(ctx, t, s, "/out/nested.png")
			return nil
		})
	})
	require.NoError(t, err)

	counts, err := s.CountAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Assets)
}

func TestRebuildFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedAsset(ctx, t, s, "/out/rebuild_me.png")
	require.NoError(t, s.SetTags(ctx, id, []string{"landmark"}))

	require.NoError(t, s.RebuildFTS(ctx))

	var n int
	row := s.QueryRow(ctx, `SELECT count(*) FROM assets_fts WHERE assets_fts MATCH ?`, `"rebuild"`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n)
	row = s.QueryRow(ctx, `SELECT count(*) FROM asset_metadata_fts WHERE asset_metadata_fts MATCH ?`, `"landmark"`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\d`, EscapeLike(`a%b_c\d`))
}

func TestStatements_BoundedByPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.sqlite")
	s, err := Open(path, Options{PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.MigrateSchema(context.Background()))

	ctx := context.Background()
	seedAsset(ctx, t, s, "/out/a.png")

	// Far more readers than pool slots: every statement must pass
	// through the semaphore and release it, or this wedges.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := s.Query(ctx, `SELECT COUNT(*) FROM assets`)
			if !assert.NoError(t, err) {
				return
			}
			var n int64
			for rows.Next() {
				assert.NoError(t, rows.Scan(&n))
			}
			assert.NoError(t, rows.Err())
			_ = rows.Close()
			assert.Equal(t, int64(1), n)
		}()
	}
	wg.Wait()

	// A cancelled caller fails in the statement queue instead of
	// reaching the database.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = s.Execute(cctx, `UPDATE assets SET size = 1`)
	require.Error(t, err)
	assert.True(t, mjrerr.Is(err, mjrerr.CodeTimeout))
}
