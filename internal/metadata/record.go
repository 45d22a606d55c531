package metadata

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/mjrindex/internal/geninfo"
	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// FileInfo is the stat-level part of a record.
type FileInfo struct {
	Size  int64      `json:"size"`
	Mtime float64    `json:"mtime"`
	Ctime float64    `json:"ctime,omitempty"`
	Kind  types.Kind `json:"kind"`
	Ext   string     `json:"ext"`
}

// Record is the normalized metadata extracted for one file. The raw
// probe payloads ride along so the stored document loses nothing.
type Record struct {
	FileInfo FileInfo `json:"file_info"`

	Exif    probe.TagMap     `json:"exif,omitempty"`
	FFprobe *probe.MediaInfo `json:"ffprobe,omitempty"`

	Workflow   map[string]any `json:"workflow,omitempty"`
	Prompt     map[string]any `json:"prompt,omitempty"`
	Parameters string         `json:"parameters,omitempty"`

	Width    *int     `json:"width,omitempty"`
	Height   *int     `json:"height,omitempty"`
	Duration *float64 `json:"duration,omitempty"`

	Audio  *AudioFacts `json:"audio,omitempty"`
	Lyrics string      `json:"lyrics,omitempty"`

	Rating *int     `json:"rating,omitempty"`
	Tags   []string `json:"tags,omitempty"`

	GenInfo       *geninfo.GenInfo `json:"geninfo,omitempty"`
	GenInfoStatus *geninfo.Status  `json:"geninfo_status,omitempty"`

	GenerationTime string `json:"generation_time,omitempty"`

	Quality types.Quality `json:"quality"`
}

// HasWorkflow reports whether an editor workflow export was found.
func (r *Record) HasWorkflow() bool {
	return r.Workflow != nil
}

// HasGenerationData reports whether generation parameters exist in any
// form: a prompt graph, parsed geninfo or a parameters blob.
func (r *Record) HasGenerationData() bool {
	if r.Prompt != nil || r.Parameters != "" {
		return true
	}
	return r.GenInfo != nil && r.GenInfo.Score() > 0
}

// WorkflowHash fingerprints the workflow payload; empty when absent.
func (r *Record) WorkflowHash() string {
	if r.Workflow == nil {
		return ""
	}
	b, err := json.Marshal(r.Workflow)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

// RawJSON serializes the full record for the metadata_raw column.
func (r *Record) RawJSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Hash fingerprints the serialized record for cache comparisons.
func (r *Record) Hash() string {
	return strconv.FormatUint(xxhash.Sum64([]byte(r.RawJSON())), 16)
}

// upgradeQuality raises quality monotonically; it never downgrades.
func (r *Record) upgradeQuality(q types.Quality) {
	if q.Better(r.Quality) {
		r.Quality = q
	}
}

// DecodeRecord parses a stored metadata_raw document back into a
// Record. Tolerant of missing fields from older parser versions.
func DecodeRecord(raw string) (*Record, error) {
	if raw == "" {
		return nil, nil
	}
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
