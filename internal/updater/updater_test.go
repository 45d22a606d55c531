package updater

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
)

func newTestUpdater(t *testing.T) (*Updater, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), store.Options{PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.InitSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return New(st, nil, nil, zap.NewNop()), st
}

func seed(t *testing.T, st *store.Store, name string) int64 {
	t.Helper()
	a := &types.Asset{
		Filepath: "/out/" + name, Filename: name,
		Source: types.SourceOutput, Kind: types.KindImage, Ext: "png",
	}
	id, _, err := st.UpsertAsset(context.Background(), a)
	require.NoError(t, err)
	return id
}

func TestSetRating_Clamps(t *testing.T) {
	u, st := newTestUpdater(t)
	id := seed(t, st, "a.png")
	ctx := context.Background()

	require.NoError(t, u.SetRating(ctx, id, 9))
	a, err := st.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, a.Rating)

	require.NoError(t, u.SetRating(ctx, id, -3))
	a, err = st.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Rating)
}

func TestSetRating_MissingAsset(t *testing.T) {
	u, _ := newTestUpdater(t)
	require.Error(t, u.SetRating(context.Background(), 9999, 3))
}

func TestSetTags_Canonicalizes(t *testing.T) {
	u, st := newTestUpdater(t)
	id := seed(t, st, "a.png")
	ctx := context.Background()

	require.NoError(t, u.SetTags(ctx, id, []string{" Sunset ", "sunset", "", "beach"}))
	a, err := st.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sunset", "beach"}, a.Tags)
}

func TestSetTags_OverwritesUserEdit(t *testing.T) {
	// Explicit tag edits replace, unlike extraction which preserves.
	u, st := newTestUpdater(t)
	id := seed(t, st, "a.png")
	ctx := context.Background()

	require.NoError(t, u.SetTags(ctx, id, []string{"first"}))
	require.NoError(t, u.SetTags(ctx, id, []string{"second"}))
	a, err := st.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, a.Tags)
}

func TestAllTags_CountsAndOrder(t *testing.T) {
	u, st := newTestUpdater(t)
	ctx := context.Background()
	for i, tags := range [][]string{{"sunset", "beach"}, {"sunset"}, {"city"}} {
		id := seed(t, st, "f"+string(rune('a'+i))+".png")
		require.NoError(t, u.SetTags(ctx, id, tags))
	}

	all, err := u.AllTags(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, TagCount{Tag: "sunset", Count: 2}, all[0])
	assert.Equal(t, "beach", all[1].Tag)
	assert.Equal(t, "city", all[2].Tag)
}

func TestSuggestTags(t *testing.T) {
	u, st := newTestUpdater(t)
	ctx := context.Background()
	id := seed(t, st, "a.png")
	require.NoError(t, u.SetTags(ctx, id, []string{"landscape", "landmark", "portrait"}))

	got, err := u.SuggestTags(ctx, "land", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got, "landscape")
	assert.Contains(t, got, "landmark")
	assert.NotContains(t, got, "portrait")

	_, err = u.SuggestTags(ctx, "  ", 5)
	require.Error(t, err)
}
