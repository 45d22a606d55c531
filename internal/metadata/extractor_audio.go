package metadata

import (
	"sort"
	"strings"

	"github.com/standardbeagle/mjrindex/internal/geninfo"
	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// AudioFacts is the stream-level summary stored for audio files.
type AudioFacts struct {
	Codec      string  `json:"codec,omitempty"`
	SampleRate string  `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	BitRate    string  `json:"bit_rate,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}

// extractAudio fills a record from ffprobe output. Audio generators
// embed their graphs in container tags the same way video muxers do;
// lyrics are recovered from the graph's text-encode nodes when no
// explicit lyrics tag exists.
func extractAudio(rec *Record, mi *probe.MediaInfo, tags probe.TagMap) {
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
		if d, ok := mi.DurationSeconds(); ok {
			rec.Duration = &d
		}
		rec.Audio = audioFacts(mi)
		rec.Lyrics = extractLyrics(mi.Format.Tags, rec.Prompt)
	}

	applyRatingTags(rec, tags)

	switch {
	case rec.Prompt != nil || rec.Workflow != nil:
		rec.upgradeQuality(types.QualityFull)
	case mi != nil && mi.AudioStream() != nil:
		rec.upgradeQuality(types.QualityPartial)
	case len(tags) > 0:
		rec.upgradeQuality(types.QualityDegraded)
	}
}

// audioFacts summarizes the first audio stream for the stored record.
func audioFacts(mi *probe.MediaInfo) *AudioFacts {
	if mi == nil {
		return nil
	}
	as := mi.AudioStream()
	if as == nil {
		return nil
	}
	f := &AudioFacts{
		Codec:      as.CodecName,
		SampleRate: as.SampleRate,
		Channels:   as.Channels,
		BitRate:    as.BitRate,
	}
	if f.BitRate == "" {
		f.BitRate = mi.Format.BitRate
	}
	if d, ok := mi.DurationSeconds(); ok {
		f.Duration = d
	}
	return f
}

// extractLyrics recovers sung text from a prompt graph when the
// container carries no lyrics tag. Text-encode nodes that feed the
// audio pipeline hold the lyric lines as their text input.
func extractLyrics(tags map[string]string, prompt map[string]any) string {
	for key, value := range tags {
		if strings.EqualFold(key, "lyrics") && value != "" {
			return value
		}
	}
	if prompt == nil {
		return ""
	}
	g, err := geninfo.NormalizeGraph(prompt)
	if err != nil || g == nil {
		return ""
	}
	var lines []string
	var ids []string
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := g[id]
		if !strings.Contains(strings.ToLower(node.ClassType), "lyric") {
			continue
		}
		for _, input := range []string{"lyrics", "text"} {
			if s, ok := node.Inputs[input].(string); ok && s != "" {
				lines = append(lines, s)
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}
