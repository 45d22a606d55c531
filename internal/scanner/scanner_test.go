package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/metadata"
	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), store.Options{PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.InitSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestScanner(t *testing.T, st *store.Store, root string) *Scanner {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Roots.Output = root
	log := zap.NewNop()
	router := probe.NewRouter(probe.BackendAuto,
		probe.NewExifTool("exiftool-not-installed-for-tests", time.Second, log),
		probe.NewFFprobe("ffprobe-not-installed-for-tests", time.Second, log))
	meta := metadata.NewService(router, 2, log)
	return New(st, meta, cfg, nil, log)
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not a real image"), 0o644))
}

func TestScanDirectory_AddsAssets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))
	writeFile(t, filepath.Join(root, "sub", "b.mp4"))
	writeFile(t, filepath.Join(root, "notes.txt")) // not indexable
	writeFile(t, filepath.Join(root, ".hidden.png"))

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)

	stats, err := sc.ScanDirectory(context.Background(), root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 0, stats.Skipped)

	counts, err := st.CountAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Assets)
}

func TestScanDirectory_IncrementalSkip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)
	ctx := context.Background()

	_, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)

	stats, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 0, stats.Updated)
}

func TestScanDirectory_DetectsChange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.png")
	writeFile(t, path)

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)
	ctx := context.Background()

	_, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)

	// Change size and mtime so the state hash moves.
	require.NoError(t, os.WriteFile(path, []byte("different bytes entirely"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	stats, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 0, stats.Added)

	counts, err := st.CountAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Assets)
}

func TestScanDirectory_MtimeTouchRefreshes(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.png")
	writeFile(t, path)

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)
	ctx := context.Background()

	_, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)

	// Same bytes, new mtime: the state hash moves but the size does
	// not, so the file refreshes its bookkeeping instead of running a
	// full re-extract and update.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	stats, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)

	// The journal advanced to the touched state, so the next pass
	// skips outright.
	stats, err = sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
}

func TestScanDirectory_FullRescanReprocesses(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)
	ctx := context.Background()

	_, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)

	stats, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 0, stats.Skipped)
}

func TestScanDirectory_NonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.png"))
	writeFile(t, filepath.Join(root, "sub", "deep.png"))

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)

	stats, err := sc.ScanDirectory(context.Background(), root, types.SourceOutput, nil, false, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
}

func TestScanDirectory_SkipsIndexDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, config.IndexDirName, "stray.png"))
	writeFile(t, filepath.Join(root, "real.png"))

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)

	stats, err := sc.ScanDirectory(context.Background(), root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
}

func TestScanDirectory_MissingRoot(t *testing.T) {
	st := newTestStore(t)
	sc := newTestScanner(t, st, t.TempDir())

	_, err := sc.ScanDirectory(context.Background(), filepath.Join(t.TempDir(), "gone"), types.SourceOutput, nil, true, true)
	require.Error(t, err)
}

func TestIndexPaths_RejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(root, "in.png"))
	writeFile(t, filepath.Join(outside, "out.png"))

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)

	stats, err := sc.IndexPaths(context.Background(),
		[]string{filepath.Join(root, "in.png"), filepath.Join(outside, "out.png")},
		root, types.SourceOutput, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Errors)
}

func TestRemovePath_FileAndSubtree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))
	writeFile(t, filepath.Join(root, "sub", "b.png"))
	writeFile(t, filepath.Join(root, "sub", "c.png"))

	st := newTestStore(t)
	sc := newTestScanner(t, st, root)
	ctx := context.Background()

	_, err := sc.ScanDirectory(ctx, root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)

	removed, err := sc.RemovePath(ctx, filepath.Join(root, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = sc.RemovePath(ctx, filepath.Join(root, "sub"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	counts, err := st.CountAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Assets)
}

func TestBatchSize_Adaptive(t *testing.T) {
	st := newTestStore(t)
	sc := newTestScanner(t, st, t.TempDir())

	assert.Equal(t, sc.cfg.Scan.BatchSmall, sc.batchSize(50))
	assert.Equal(t, sc.cfg.Scan.BatchMed, sc.batchSize(500))
	assert.Equal(t, sc.cfg.Scan.BatchLarge, sc.batchSize(5000))
	assert.Equal(t, sc.cfg.Scan.BatchXL, sc.batchSize(50000))
}
