package engine

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/types"
	"github.com/standardbeagle/mjrindex/pkg/pathutil"
)

// RootRegistry manages user-registered custom roots. The registry is a
// JSON sidecar next to the database, written atomically so a crash
// mid-write can never corrupt it.
type RootRegistry struct {
	path string

	mu    sync.Mutex
	roots []types.CustomRoot
}

// LoadRoots reads the registry, treating a missing file as empty.
func LoadRoots(path string) (*RootRegistry, error) {
	r := &RootRegistry{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeDBError, err, "read roots registry")
	}
	if err := json.Unmarshal(data, &r.roots); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeInvalidJSON, err, "parse roots registry")
	}
	return r, nil
}

// Add registers a directory as a custom root. The path is
// canonicalized; re-adding a registered path returns the existing root.
func (r *RootRegistry) Add(path, label string) (types.CustomRoot, error) {
	canonical, err := pathutil.Canonicalize(path)
	if err != nil {
		return types.CustomRoot{}, mjrerr.Wrap(mjrerr.CodeInvalidInput, err, "canonicalize %s", path)
	}
	fi, err := os.Stat(canonical)
	if err != nil {
		return types.CustomRoot{}, mjrerr.Wrap(mjrerr.CodeDirNotFound, err, "root %s", canonical)
	}
	if !fi.IsDir() {
		return types.CustomRoot{}, mjrerr.New(mjrerr.CodeNotADirectory, "%s is not a directory", canonical)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.roots {
		if existing.Path == canonical {
			return existing, nil
		}
	}

	root := types.CustomRoot{
		ID:        newRootID(),
		Path:      canonical,
		Label:     label,
		CreatedAt: float64(time.Now().UnixNano()) / 1e9,
	}
	r.roots = append(r.roots, root)
	if err := r.persist(); err != nil {
		r.roots = r.roots[:len(r.roots)-1]
		return types.CustomRoot{}, err
	}
	return root, nil
}

// Remove drops a root by id. Indexed assets under it are the caller's
// problem; the registry only tracks registration.
func (r *RootRegistry) Remove(id string) (types.CustomRoot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, root := range r.roots {
		if root.ID == id {
			r.roots = append(r.roots[:i:i], r.roots[i+1:]...)
			if err := r.persist(); err != nil {
				return types.CustomRoot{}, err
			}
			return root, nil
		}
	}
	return types.CustomRoot{}, mjrerr.New(mjrerr.CodeNotFound, "custom root %s not found", id)
}

// List returns the registered roots ordered by creation time.
func (r *RootRegistry) List() []types.CustomRoot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]types.CustomRoot{}, r.roots...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Get resolves a root by id.
func (r *RootRegistry) Get(id string) (types.CustomRoot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, root := range r.roots {
		if root.ID == id {
			return root, true
		}
	}
	return types.CustomRoot{}, false
}

func (r *RootRegistry) persist() error {
	data, err := json.MarshalIndent(r.roots, "", "  ")
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeInvalidJSON, err, "encode roots registry")
	}
	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return mjrerr.Wrap(mjrerr.CodeDBError, err, "write roots registry")
	}
	return nil
}

func newRootID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "root_" + hex.EncodeToString(b[:])
}
