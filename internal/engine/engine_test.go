package engine

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
	"github.com/standardbeagle/mjrindex/internal/search"
	"github.com/standardbeagle/mjrindex/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Roots.Output = root
	cfg.Probe.ExifToolPath = "exiftool-not-installed-for-tests"
	cfg.Probe.FFprobePath = "ffprobe-not-installed-for-tests"
	cfg.Watch.Enabled = false

	e, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, root
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o644))
}

func TestEngine_ScanAndSearch(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "castle_render.png"))
	writeFile(t, filepath.Join(root, "sub", "portrait.mp4"))

	stats, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)

	resp, err := e.Search(ctx, search.Request{Query: "castle"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "castle_render.png", resp.Hits[0].Asset.Filename)
}

func TestEngine_RateTagAndFetch(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "a.png"))

	_, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)

	resp, err := e.Browse(ctx, search.BrowseRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	id := resp.Hits[0].Asset.ID

	require.NoError(t, e.SetRating(ctx, id, 4))
	require.NoError(t, e.SetTags(ctx, id, []string{"castle", "night"}))

	detail, err := e.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, detail.Asset.Rating)
	assert.Equal(t, []string{"castle", "night"}, detail.Asset.Tags)

	tags, err := e.AllTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestEngine_RatingSurvivesRescan(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	path := filepath.Join(root, "a.png")
	writeFile(t, path)

	_, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)
	resp, err := e.Browse(ctx, search.BrowseRequest{})
	require.NoError(t, err)
	id := resp.Hits[0].Asset.ID
	require.NoError(t, e.SetRating(ctx, id, 5))

	// Touch the file so the rescan takes the refresh path rather
	// than the journal skip.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	_, err = e.ScanOutput(ctx, true, true)
	require.NoError(t, err)

	detail, err := e.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, detail.Asset.Rating)
}

func TestEngine_MtimeTouchCountsSkipped(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	path := filepath.Join(root, "a.png")
	writeFile(t, path)

	_, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)

	// mtime moves, bytes do not: the file refreshes its bookkeeping
	// and counts as skipped, not updated.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	stats, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
}

func TestEngine_EditsWaitForScan(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "a.png"))

	_, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)
	resp, err := e.Browse(ctx, search.BrowseRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	id := resp.Hits[0].Asset.ID

	// Hold the write lock the way a running scan does and prove a
	// rating edit queues behind it instead of interleaving.
	e.scanMu.Lock()
	done := make(chan error, 1)
	go func() { done <- e.SetRating(ctx, id, 3) }()

	select {
	case <-done:
		t.Fatal("edit ran while the write lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	e.scanMu.Unlock()
	require.NoError(t, <-done)

	detail, err := e.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, detail.Asset.Rating)
}

func TestEngine_RemovePath(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "gone.png"))

	_, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)

	removed, err := e.RemovePath(ctx, filepath.Join(root, "gone.png"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Counts.Assets)
}

func TestEngine_Status(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "a.png"))
	_, err := e.ScanOutput(ctx, true, true)
	require.NoError(t, err)

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Counts.Assets)
	assert.NotNil(t, st.LastScanEnd)
	assert.False(t, st.WatcherActive)
	assert.Positive(t, st.SchemaVersion)
}

func TestEngine_CustomRoots(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	extra := t.TempDir()
	writeFile(t, filepath.Join(extra, "x.png"))

	root, err := e.Roots().Add(extra, "renders")
	require.NoError(t, err)
	assert.NotEmpty(t, root.ID)

	// Re-adding the same path returns the existing registration.
	again, err := e.Roots().Add(extra, "other label")
	require.NoError(t, err)
	assert.Equal(t, root.ID, again.ID)

	stats, err := e.ScanCustomRoot(ctx, root.ID, true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)

	resp, err := e.Browse(ctx, search.BrowseRequest{Sources: []types.Source{types.SourceCustom}})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	require.NotNil(t, resp.Hits[0].Asset.RootID)
	assert.Equal(t, root.ID, *resp.Hits[0].Asset.RootID)

	_, err = e.Roots().Remove(root.ID)
	require.NoError(t, err)
	assert.Empty(t, e.Roots().List())
}

func TestEngine_ReopenKeepsData(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Roots.Output = root
	cfg.Probe.ExifToolPath = "exiftool-not-installed-for-tests"
	cfg.Probe.FFprobePath = "ffprobe-not-installed-for-tests"

	ctx := context.Background()
	writeFile(t, filepath.Join(root, "persist.png"))

	e, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = e.ScanOutput(ctx, true, true)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer e2.Close()

	st, err := e2.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Counts.Assets)
}

func TestJobQueue_Coalesces(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "a.png"))

	ok := e.EnqueueRescan(types.SourceOutput, nil, root)
	assert.True(t, ok)
	ok = e.EnqueueRescan(types.SourceOutput, nil, root)
	assert.True(t, ok) // coalesced, not a second job

	require.Eventually(t, func() bool {
		st, err := e.Status(context.Background())
		return err == nil && st.Counts.Assets == 1
	}, 10*time.Second, 50*time.Millisecond)
}
