package metadata

import (
	"strings"

	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Container tag keys that video writers use for embedded graphs.
// QuickTime user-data keys come through exiftool with the group
// prefix; ffprobe sees them as bare format/stream tags.
var videoPayloadTags = []string{
	"QuickTime:Workflow", "QuickTime:Prompt", "QuickTime:Parameters",
	"Workflow", "Prompt", "Parameters", "Comment", "workflow", "prompt",
}

// extractVideo fills a record from ffprobe container facts plus any
// exiftool tags read alongside. Embedded graphs are looked for in both
// tools' output; the first hit wins.
func extractVideo(rec *Record, mi *probe.MediaInfo, tags probe.TagMap) {
	rec.Exif = tags
	rec.FFprobe = mi

	var found foundPayloads
	for _, name := range videoPayloadTags {
		if found.complete() {
			break
		}
		if s, ok := tags[name].(string); ok && s != "" {
			found.scanTagValue(s)
		}
	}
	if mi != nil && !found.complete() {
		scanContainerTags(&found, mi.Format.Tags)
		for i := range mi.Streams {
			if found.complete() {
				break
			}
			scanContainerTags(&found, mi.Streams[i].Tags)
		}
	}

	rec.Workflow = found.Workflow
	rec.Prompt = found.Prompt

	if mi != nil {
		if vs := mi.VideoStream(); vs != nil && vs.Width > 0 && vs.Height > 0 {
			w, h := vs.Width, vs.Height
			rec.Width, rec.Height = &w, &h
		}
		if d, ok := mi.DurationSeconds(); ok {
			rec.Duration = &d
		}
	}

	applyRatingTags(rec, tags)

	switch {
	case rec.Prompt != nil || rec.Workflow != nil:
		rec.upgradeQuality(types.QualityFull)
	case mi != nil && len(mi.Streams) > 0:
		rec.upgradeQuality(types.QualityPartial)
	case len(tags) > 0:
		rec.upgradeQuality(types.QualityDegraded)
	}
}

// scanContainerTags sweeps an ffprobe tag map for payload values. Keys
// are matched case-insensitively since muxers disagree on casing.
func scanContainerTags(found *foundPayloads, tags map[string]string) {
	for key, value := range tags {
		if found.complete() {
			return
		}
		lower := strings.ToLower(key)
		if lower == "workflow" || lower == "prompt" || lower == "comment" ||
			strings.Contains(lower, "workflow") || strings.Contains(lower, "prompt") {
			found.scanTagValue(value)
		}
	}
}
