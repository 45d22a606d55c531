// Package updater applies user edits to assets: ratings, tags, and the
// background write-back that mirrors those edits into the files' own
// tag namespaces so they survive outside the index.
package updater

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hbollon/go-edlib"
	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/metadata"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/store"
)

// Updater writes user edits. Database updates are synchronous and run
// under the shared write lock; file write-back runs on the background
// worker and never fails the call.
type Updater struct {
	store     *store.Store
	writeback *Writeback
	writeMu   *sync.Mutex
	log       *zap.Logger
}

// New builds an updater. writeback may be nil to disable file
// mirroring; writeMu is the engine's write lock, nil to skip the
// serialization.
func New(st *store.Store, wb *Writeback, writeMu *sync.Mutex, log *zap.Logger) *Updater {
	return &Updater{store: st, writeback: wb, writeMu: writeMu, log: log}
}

func (u *Updater) lock() func() {
	if u.writeMu == nil {
		return func() {}
	}
	u.writeMu.Lock()
	return u.writeMu.Unlock
}

// SetRating stores a 0-5 rating for an asset, clamping out-of-range
// values, and queues the file write-back.
func (u *Updater) SetRating(ctx context.Context, assetID int64, rating int) error {
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	defer u.lock()()
	asset, err := u.store.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if err := u.store.SetRating(ctx, assetID, rating); err != nil {
		return err
	}
	if u.writeback != nil {
		u.writeback.QueueRating(asset.Filepath, rating)
	}
	return nil
}

// SetTags replaces an asset's tag list after canonicalization and
// queues the file write-back.
func (u *Updater) SetTags(ctx context.Context, assetID int64, tags []string) error {
	canonical := metadata.CanonicalizeTags(tags)
	defer u.lock()()
	asset, err := u.store.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if err := u.store.SetTags(ctx, assetID, canonical); err != nil {
		return err
	}
	if u.writeback != nil {
		u.writeback.QueueTags(asset.Filepath, canonical)
	}
	return nil
}

// TagCount is one known tag with its usage count.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// AllTags lists every stored tag ordered by usage then name.
func (u *Updater) AllTags(ctx context.Context) ([]TagCount, error) {
	counts, err := u.store.AllTags(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

// SuggestTags proposes existing tags close to the given fragment:
// prefix matches first, then fuzzy matches by Jaro-Winkler similarity.
// Catches near-duplicate spellings before they fork a new tag.
func (u *Updater) SuggestTags(ctx context.Context, fragment string, limit int) ([]string, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	if fragment == "" {
		return nil, mjrerr.New(mjrerr.CodeInvalidInput, "empty tag fragment")
	}
	if limit <= 0 {
		limit = 10
	}

	all, err := u.AllTags(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		tag  string
		sim  float32
		pref bool
	}
	var candidates []scored
	for _, tc := range all {
		lower := strings.ToLower(tc.Tag)
		if lower == fragment {
			continue
		}
		pref := strings.HasPrefix(lower, fragment)
		sim, err := edlib.StringsSimilarity(fragment, lower, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if !pref && sim < 0.82 {
			continue
		}
		candidates = append(candidates, scored{tag: tc.Tag, sim: sim, pref: pref})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].pref != candidates[j].pref {
			return candidates[i].pref
		}
		return candidates[i].sim > candidates[j].sim
	})

	out := make([]string, 0, limit)
	for _, c := range candidates {
		out = append(out, c.tag)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
