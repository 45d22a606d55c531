package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

func newTestRegistry(t *testing.T) (*RootRegistry, string) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "custom_roots.json")
	reg, err := LoadRoots(file)
	require.NoError(t, err)
	return reg, file
}

func TestRootRegistry_AddRemoveList(t *testing.T) {
	reg, _ := newTestRegistry(t)

	dirA := t.TempDir()
	dirB := t.TempDir()

	a, err := reg.Add(dirA, "renders")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "renders", a.Label)

	b, err := reg.Add(dirB, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	list := reg.List()
	require.Len(t, list, 2)

	removed, err := reg.Remove(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, removed.ID)
	assert.Len(t, reg.List(), 1)

	_, err = reg.Remove(a.ID)
	assert.True(t, mjrerr.Is(err, mjrerr.CodeNotFound))
}

func TestRootRegistry_RejectsBadPaths(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Add(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = reg.Add(file, "")
	assert.Error(t, err)
}

func TestRootRegistry_PersistsAcrossLoads(t *testing.T) {
	reg, file := newTestRegistry(t)

	dir := t.TempDir()
	added, err := reg.Add(dir, "archive")
	require.NoError(t, err)

	reloaded, err := LoadRoots(file)
	require.NoError(t, err)
	list := reloaded.List()
	require.Len(t, list, 1)
	assert.Equal(t, added.ID, list[0].ID)
	assert.Equal(t, "archive", list[0].Label)

	got, ok := reloaded.Get(added.ID)
	require.True(t, ok)
	assert.Equal(t, added.Path, got.Path)
}

func TestRootRegistry_CorruptFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom_roots.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o644))

	_, err := LoadRoots(file)
	assert.True(t, mjrerr.Is(err, mjrerr.CodeInvalidJSON))
}
