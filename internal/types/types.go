// Package types holds the shared domain types of the media index:
// asset rows, file kinds, logical sources, scan statistics and the
// state-hash used by the incremental scanner and the metadata cache.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind classifies an indexed file by its extension.
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
	KindModel3D Kind = "model3d"
	KindUnknown Kind = "unknown"
)

// Source is the logical root an asset belongs to.
type Source string

const (
	SourceOutput Source = "output"
	SourceInput  Source = "input"
	SourceCustom Source = "custom"
)

// Quality grades how complete an extracted metadata record is.
type Quality string

const (
	QualityNone     Quality = "none"
	QualityDegraded Quality = "degraded"
	QualityPartial  Quality = "partial"
	QualityFull     Quality = "full"
)

var qualityRank = map[Quality]int{
	QualityNone:     0,
	QualityDegraded: 1,
	QualityPartial:  2,
	QualityFull:     3,
}

// Better reports whether q is strictly more complete than other.
func (q Quality) Better(other Quality) bool {
	return qualityRank[q] > qualityRank[other]
}

// extKinds maps lowercase file extensions (without dot) to a Kind.
// Extensions missing from the map are not indexed.
var extKinds = map[string]Kind{
	// images
	"png": KindImage, "jpg": KindImage, "jpeg": KindImage, "webp": KindImage,
	"gif": KindImage, "bmp": KindImage, "tiff": KindImage, "tif": KindImage,
	"avif": KindImage, "heic": KindImage, "heif": KindImage, "jxl": KindImage,
	// videos
	"mp4": KindVideo, "webm": KindVideo, "mkv": KindVideo, "mov": KindVideo,
	"avi": KindVideo, "m4v": KindVideo, "wmv": KindVideo, "flv": KindVideo,
	"mpg": KindVideo, "mpeg": KindVideo, "m2ts": KindVideo,
	// audio
	"mp3": KindAudio, "wav": KindAudio, "flac": KindAudio, "ogg": KindAudio,
	"opus": KindAudio, "m4a": KindAudio, "aac": KindAudio, "wma": KindAudio,
	// 3d models
	"glb": KindModel3D, "gltf": KindModel3D, "obj": KindModel3D,
	"fbx": KindModel3D, "stl": KindModel3D, "ply": KindModel3D,
}

// KindOfExt returns the Kind for a file extension. The extension may be
// passed with or without the leading dot and in any case.
func KindOfExt(ext string) Kind {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	k, ok := extKinds[ext]
	if !ok {
		return KindUnknown
	}
	return k
}

// StateHash derives the stable per-file fingerprint used by the scan
// journal and the metadata cache. It hashes path, mtime (nanoseconds)
// and size separated by NUL bytes so no field can bleed into another.
func StateHash(filepath string, mtimeNS int64, size int64) string {
	h := sha256.New()
	h.Write([]byte(filepath))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(mtimeNS, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(size, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Asset is one indexed media file.
type Asset struct {
	ID        int64   `json:"id"`
	Filepath  string  `json:"filepath"`
	Filename  string  `json:"filename"`
	Subfolder string  `json:"subfolder"`
	Source    Source  `json:"source"`
	RootID    *string `json:"root_id,omitempty"`
	Kind      Kind    `json:"kind"`
	Ext       string  `json:"ext"`
	Size      int64   `json:"size"`
	Mtime     float64 `json:"mtime"`

	Width    *int     `json:"width,omitempty"`
	Height   *int     `json:"height,omitempty"`
	Duration *float64 `json:"duration,omitempty"`

	CreatedAt float64 `json:"created_at"`
	UpdatedAt float64 `json:"updated_at"`
	IndexedAt float64 `json:"indexed_at"`

	ContentHash *string `json:"content_hash,omitempty"`
	PHash       *string `json:"phash,omitempty"`
	HashState   *string `json:"hash_state,omitempty"`

	// Metadata columns, populated when the asset_metadata row exists.
	Rating            int      `json:"rating"`
	Tags              []string `json:"tags"`
	HasWorkflow       bool     `json:"has_workflow"`
	HasGenerationData bool     `json:"has_generation_data"`
	MetadataQuality   Quality  `json:"metadata_quality,omitempty"`
	MetadataRaw       string   `json:"-"`
}

// ScanStats reports the outcome of a scan or index operation.
type ScanStats struct {
	Scanned   int       `json:"scanned"`
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	ToEnrich  int       `json:"to_enrich,omitempty"`
}

// Merge folds other into s, keeping the earliest start and latest end.
func (s *ScanStats) Merge(other ScanStats) {
	s.Scanned += other.Scanned
	s.Added += other.Added
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Errors += other.Errors
	s.ToEnrich += other.ToEnrich
	if s.StartTime.IsZero() || (!other.StartTime.IsZero() && other.StartTime.Before(s.StartTime)) {
		s.StartTime = other.StartTime
	}
	if other.EndTime.After(s.EndTime) {
		s.EndTime = other.EndTime
	}
}

// CustomRoot is a user-registered directory indexed alongside the
// output and input roots. Persisted in custom_roots.json, not the DB.
type CustomRoot struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Label     string  `json:"label"`
	CreatedAt float64 `json:"created_at"`
}

// TagsJSON renders a canonical tag list as the JSON payload stored in
// asset_metadata.tags. A nil slice serializes as the empty list.
func TagsJSON(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// ParseTagsJSON decodes the stored tag payload, tolerating legacy
// non-JSON values by returning an empty list.
func ParseTagsJSON(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
