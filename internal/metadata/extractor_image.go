package metadata

import (
	"strings"

	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Exif tag names that carry embedded generation payloads. PNG writers
// put the graphs in tEXt chunks, WEBP writers smuggle JSON through the
// Make/Model EXIF fields.
var payloadTagNames = []string{
	"Workflow", "Prompt", "Parameters",
	"PNG:Workflow", "PNG:Prompt", "PNG:Parameters",
	"UserComment", "ExifIFD:UserComment",
	"EXIF:Make", "EXIF:Model", "IFD0:Make", "IFD0:Model",
	"XMP:Description", "Comment",
}

var imageDimensionTags = []struct{ w, h string }{
	{"File:ImageWidth", "File:ImageHeight"},
	{"PNG:ImageWidth", "PNG:ImageHeight"},
	{"EXIF:ExifImageWidth", "EXIF:ExifImageHeight"},
	{"ImageWidth", "ImageHeight"},
}

// extractImage fills a record from an image's exiftool output: the
// embedded workflow and prompt graphs, Auto1111 parameters text,
// rating, tags and pixel dimensions.
func extractImage(rec *Record, tags probe.TagMap) {
	rec.Exif = tags

	var found foundPayloads
	for _, name := range payloadTagNames {
		if found.complete() {
			break
		}
		if s, ok := tags[name].(string); ok && s != "" {
			found.scanTagValue(s)
		}
	}
	// Sweep the remaining tags for payloads hiding under writer
	// specific names.
	if !found.complete() {
		for name, v := range tags {
			if found.complete() {
				break
			}
			s, ok := v.(string)
			if !ok || len(s) < 2 {
				continue
			}
			lower := strings.ToLower(name)
			if strings.Contains(lower, "workflow") || strings.Contains(lower, "prompt") ||
				strings.Contains(lower, "parameters") || strings.Contains(lower, "comment") {
				found.scanTagValue(s)
			}
		}
	}

	rec.Workflow = found.Workflow
	rec.Prompt = found.Prompt
	rec.Parameters = parametersText(tags)

	if w, h, ok := imageDimensions(tags); ok {
		rec.Width, rec.Height = &w, &h
	}

	applyRatingTags(rec, tags)

	switch {
	case rec.Prompt != nil || rec.Workflow != nil:
		rec.upgradeQuality(types.QualityFull)
	case rec.Parameters != "":
		rec.upgradeQuality(types.QualityPartial)
	case len(tags) > 0:
		rec.upgradeQuality(types.QualityDegraded)
	}
}

// parametersText returns the raw Auto1111 parameters blob, preferring
// the PNG chunk over generic fallbacks.
func parametersText(tags probe.TagMap) string {
	for _, name := range []string{"PNG:Parameters", "Parameters", "ExifIFD:UserComment", "UserComment"} {
		if s, ok := tags[name].(string); ok {
			if ParseAuto1111(s) != nil {
				return s
			}
		}
	}
	return ""
}

func imageDimensions(tags probe.TagMap) (w, h int, ok bool) {
	for _, pair := range imageDimensionTags {
		wf, wok := anyToFloat(tags[pair.w])
		hf, hok := anyToFloat(tags[pair.h])
		if wok && hok && wf > 0 && hf > 0 {
			return int(wf), int(hf), true
		}
	}
	return 0, 0, false
}

// applyRatingTags lifts rating, user tags and generation time out of
// the exif tag map into the record.
func applyRatingTags(rec *Record, tags probe.TagMap) {
	if r, ok := ExtractRating(tags); ok {
		rec.Rating = &r
	}
	if t := ExtractTags(tags); len(t) > 0 {
		rec.Tags = t
	}
	if gt := ExtractGenerationTime(tags); gt != "" {
		rec.GenerationTime = gt
	}
}
