package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToRelative(t *testing.T) {
	tests := []struct {
		name     string
		absPath  string
		rootDir  string
		expected string
	}{
		{"inside root", "/data/out/sub/a.png", "/data/out", filepath.Join("sub", "a.png")},
		{"at root", "/data/out/a.png", "/data/out", "a.png"},
		{"outside root", "/elsewhere/a.png", "/data/out", "/elsewhere/a.png"},
		{"already relative", "sub/a.png", "/data/out", "sub/a.png"},
		{"empty path", "", "/data/out", ""},
		{"empty root", "/data/out/a.png", "", "/data/out/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToRelative(tt.absPath, tt.rootDir))
		})
	}
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("/data/out", "/data/out/sub/a.png"))
	assert.True(t, Contains("/data/out", "/data/out"))
	assert.False(t, Contains("/data/out", "/data/output/a.png"))
	assert.False(t, Contains("/data/out", "/data"))
	assert.False(t, Contains("", "/data"))
}

func TestSubfolder(t *testing.T) {
	assert.Equal(t, "sub/deep", Subfolder("/data/out", "/data/out/sub/deep/a.png"))
	assert.Equal(t, "", Subfolder("/data/out", "/data/out/a.png"))
	assert.Equal(t, "", Subfolder("/data/out", "/elsewhere/a.png"))
}

func TestCanonicalize_MissingFile(t *testing.T) {
	dir := t.TempDir()
	got, err := Canonicalize(filepath.Join(dir, "not-yet-written.png"))
	assert.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}
