package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/store"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) onChanged(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, path)
}

func (r *recorder) onRemoved(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
}

func (r *recorder) changedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changed)
}

func (r *recorder) removedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.removed)
}

func newTestWatcher(t *testing.T, root string) (*Watcher, *recorder) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), store.Options{PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.InitSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	cfg.Roots.Output = root
	cfg.Watch.DebounceMs = 50
	cfg.Watch.SettleMs = 20

	rec := &recorder{}
	w, err := New(cfg, st, Callbacks{OnChanged: rec.onChanged, OnRemoved: rec.onRemoved}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	require.NoError(t, w.Start(root))
	return w, rec
}

func TestWatcher_CreateAndRemove(t *testing.T) {
	// The pooled sqlite handle closes in a Cleanup that runs after this
	// defer; its opener goroutine is expected to still be alive here.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	root := t.TempDir()
	w, rec := newTestWatcher(t, root)

	path := filepath.Join(root, "new.png")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	require.Eventually(t, func() bool { return rec.changedCount() >= 1 },
		5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return rec.removedCount() >= 1 },
		5*time.Second, 20*time.Millisecond)

	// Stop before the leak check; the Cleanup-registered Stop would run
	// after it.
	w.Stop()
}

func TestWatcher_IgnoresTempAndDotfiles(t *testing.T) {
	root := t.TempDir()
	w, rec := newTestWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "partial.png.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, rec.changedCount())
	assert.Equal(t, 0, w.Pending())
}

func TestWatcher_CoalescesWriteBurst(t *testing.T) {
	root := t.TempDir()
	_, rec := newTestWatcher(t, root)

	path := filepath.Join(root, "stream.mp4")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, make([]byte, (i+1)*100), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return rec.changedCount() >= 1 },
		5*time.Second, 20*time.Millisecond)
	// The burst must not produce one dispatch per write.
	assert.LessOrEqual(t, rec.changedCount(), 2)
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	_, rec := newTestWatcher(t, root)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a beat to attach the new directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.png"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return rec.changedCount() >= 1 },
		5*time.Second, 20*time.Millisecond)
}

func TestDebouncer_RemoveWins(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]EventType{}
	d := newDebouncer(30*time.Millisecond, 10*time.Millisecond, func(path string, et EventType) {
		mu.Lock()
		defer mu.Unlock()
		fired[path] = et
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go d.run(ctx, &wg)
	defer wg.Wait()
	defer cancel()

	d.add("/x/a.png", EventWrite)
	d.add("/x/a.png", EventRemove)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventRemove, fired["/x/a.png"])
}
