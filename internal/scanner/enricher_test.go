package scanner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/metadata"
	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/types"
)

func newTestEnricher(t *testing.T) (*Enricher, *Scanner) {
	t.Helper()
	root := t.TempDir()
	st := newTestStore(t)
	log := zap.NewNop()
	router := probe.NewRouter(probe.BackendAuto,
		probe.NewExifTool("exiftool-not-installed-for-tests", time.Second, log),
		probe.NewFFprobe("ffprobe-not-installed-for-tests", time.Second, log))
	meta := metadata.NewService(router, 2, log)
	enr := NewEnricher(context.Background(), st, meta, 8, nil, log)
	t.Cleanup(enr.Close)

	sc := newTestScanner(t, st, root)
	return enr, sc
}

func TestEnricher_DrainsAndGoesIdle(t *testing.T) {
	// The pooled sqlite handle closes in a Cleanup that runs after this
	// defer; its opener goroutine is expected to still be alive here.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	enr, sc := newTestEnricher(t)

	root := t.TempDir()
	path := filepath.Join(root, "a.png")
	writeFile(t, path)
	_, err := sc.ScanDirectory(context.Background(), root, types.SourceOutput, nil, true, true)
	require.NoError(t, err)

	enr.Add(path)
	enr.Add(path) // duplicate while queued is a no-op

	require.Eventually(t, func() bool { return enr.Pending() == 0 },
		5*time.Second, 10*time.Millisecond)

	enr.Close()
}

func TestEnricher_AddAfterClose(t *testing.T) {
	enr, _ := newTestEnricher(t)
	enr.Close()
	enr.Add("/nowhere/a.png")
	assert.Equal(t, 0, enr.Pending())
}
