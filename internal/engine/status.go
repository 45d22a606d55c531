package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/standardbeagle/mjrindex/internal/store"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Status is the snapshot reported by the status operation.
type Status struct {
	DatabasePath  string             `json:"database_path"`
	SchemaVersion int                `json:"schema_version"`
	Counts        store.Counts       `json:"counts"`
	LastScanEnd   *time.Time         `json:"last_scan_end,omitempty"`
	LastIndexEnd  *time.Time         `json:"last_index_end,omitempty"`
	WatcherActive bool               `json:"watcher_active"`
	WatcherScope  string             `json:"watcher_scope,omitempty"`
	PendingEvents int                `json:"pending_events"`
	PendingJobs   int                `json:"pending_jobs"`
	PendingEnrich int                `json:"pending_enrich"`
	CustomRoots   []types.CustomRoot `json:"custom_roots,omitempty"`
	ProbeBackend  string             `json:"probe_backend"`
}

// Status gathers the current index state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	counts, err := e.store.CountAssets(ctx)
	if err != nil {
		return nil, err
	}
	version, err := e.store.GetSchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		DatabasePath:  e.cfg.DatabasePath(),
		SchemaVersion: version,
		Counts:        counts,
		WatcherActive: e.watcher != nil,
		PendingJobs:   e.jobs.depth(),
		PendingEnrich: e.enricher.Pending(),
		CustomRoots:   e.roots.List(),
		ProbeBackend:  e.cfg.Probe.Backend,
	}
	if e.watcher != nil {
		st.PendingEvents = e.watcher.Pending()
	}

	st.LastScanEnd = e.metaTime(ctx, store.KeyLastScanEnd)
	st.LastIndexEnd = e.metaTime(ctx, store.KeyLastIndexEnd)
	if scope, ok, _ := e.store.GetMeta(ctx, store.KeyWatcherScope); ok {
		st.WatcherScope = scope
	}
	return st, nil
}

func (e *Engine) metaTime(ctx context.Context, key string) *time.Time {
	raw, ok, err := e.store.GetMeta(ctx, key)
	if err != nil || !ok {
		return nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(secs, 0)
	return &t
}
