package geninfo

import (
	"sort"
	"strings"
)

// sinkKind groups sinks for ranking; lower group wins.
type sinkGroup int

const (
	sinkVideo sinkGroup = iota
	sinkAudio
	sinkImage
	sinkPreview
	sinkOther
)

// knownSinks maps exact sink class names to their group.
var knownSinks = map[string]sinkGroup{
	"SaveImage":          sinkImage,
	"SaveImageWebsocket": sinkImage,
	"SaveAnimatedWEBP":   sinkImage,
	"SaveAnimatedPNG":    sinkImage,
	"SaveVideo":          sinkVideo,
	"SaveWEBM":           sinkVideo,
	"VHS_VideoCombine":   sinkVideo,
	"VHS_SaveVideo":      sinkVideo,
	"CreateVideo":        sinkVideo,
	"SaveAudio":          sinkAudio,
	"SaveAudioMP3":       sinkAudio,
	"SaveAudioOpus":      sinkAudio,
	"PreviewImage":       sinkPreview,
	"PreviewAudio":       sinkPreview,
	"VHS_PreviewVideo":   sinkPreview,
	"ImageSave":          sinkImage,
	"Image Save":         sinkImage,
	"SaveImageExtended":  sinkImage,
	"SaveGifAndMp4":      sinkVideo,
}

// mediaHints mark class names that look like sinks by substring.
var mediaHints = []string{"image", "video", "audio", "gif", "webp", "mp4"}

// sinkInfo captures one detected sink with its ranking facts.
type sinkInfo struct {
	id        string
	class     string
	group     sinkGroup
	hasImages bool
}

// isSink reports whether a node produces final saved media. Exact
// allow-list membership wins; otherwise a "save"/"preview" class with a
// media hint qualifies.
func isSink(class string) (sinkGroup, bool) {
	if g, ok := knownSinks[class]; ok {
		return g, true
	}
	lower := strings.ToLower(class)
	if !strings.Contains(lower, "save") && !strings.Contains(lower, "preview") {
		return sinkOther, false
	}
	for _, hint := range mediaHints {
		if strings.Contains(lower, hint) {
			if strings.Contains(lower, "preview") {
				return sinkPreview, true
			}
			switch {
			case strings.Contains(lower, "video") || strings.Contains(lower, "mp4"):
				return sinkVideo, true
			case strings.Contains(lower, "audio"):
				return sinkAudio, true
			default:
				return sinkImage, true
			}
		}
	}
	return sinkOther, false
}

// findSinks collects every sink node in deterministic order.
func findSinks(g Graph) []sinkInfo {
	var sinks []sinkInfo
	for _, id := range sortedIDs(g) {
		node := g[id]
		group, ok := isSink(node.ClassType)
		if !ok {
			continue
		}
		_, hasImages := node.Inputs["images"]
		sinks = append(sinks, sinkInfo{id: id, class: node.ClassType, group: group, hasImages: hasImages})
	}
	return sinks
}

// rankSinks orders sinks: group order video < audio < image < preview <
// other, preferring sinks that consume `images`, tie-broken by higher
// node id (the latest node in the graph).
func rankSinks(sinks []sinkInfo) []sinkInfo {
	ranked := make([]sinkInfo, len(sinks))
	copy(ranked, sinks)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].group != ranked[j].group {
			return ranked[i].group < ranked[j].group
		}
		if ranked[i].hasImages != ranked[j].hasImages {
			return ranked[i].hasImages
		}
		return nodeIDRank(ranked[i].id) > nodeIDRank(ranked[j].id)
	})
	return ranked
}

// mediaInputNames are sink inputs that carry the final media payload,
// in preference order for upstream walks.
var mediaInputNames = []string{"images", "image", "video", "frames", "audio", "samples", "pixels", "filenames"}

// sinkMediaSources returns the upstream node ids feeding the sink's
// media-like inputs.
func sinkMediaSources(node *Node) []string {
	var srcs []string
	for _, name := range mediaInputNames {
		if v, ok := node.Inputs[name]; ok {
			if src, _, ok := LinkRef(v); ok {
				srcs = append(srcs, src)
			}
		}
	}
	if len(srcs) > 0 {
		return srcs
	}
	// Fall back to every linked input.
	for _, name := range sortedInputNames(node) {
		if src, _, ok := LinkRef(node.Inputs[name]); ok {
			srcs = append(srcs, src)
		}
	}
	return srcs
}

func sortedInputNames(node *Node) []string {
	names := make([]string, 0, len(node.Inputs))
	for name := range node.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
