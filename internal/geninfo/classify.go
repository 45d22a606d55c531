package geninfo

import (
	"strings"
)

// classifyWorkflowType combines the sink's output kind with the latent
// input's origin into a 2-char label: T2I, I2V, A2A and so on.
//
// Output letter: sink group (image→I, video→V, audio→A).
// Input letter: EmptyLatent→T, VAEEncode(LoadImage)→I,
// VAEEncode(LoadVideo)→V, LoadAudio→A, LoadLatent→I.
func classifyWorkflowType(g Graph, sink sinkInfo, samplerID string) string {
	outLetter := sinkLetter(sink.group)
	if outLetter == "" {
		return ""
	}

	inLetter := latentOriginLetter(g, samplerID)
	if inLetter == "" {
		inLetter = scanGraphInputLetter(g)
	}
	if inLetter == "" {
		inLetter = "T"
	}
	return inLetter + "2" + outLetter
}

func sinkLetter(group sinkGroup) string {
	switch group {
	case sinkVideo:
		return "V"
	case sinkAudio:
		return "A"
	case sinkImage, sinkPreview:
		return "I"
	default:
		return ""
	}
}

// latentOriginLetter follows the sampler's latent input to its origin.
func latentOriginLetter(g Graph, samplerID string) string {
	sampler := g[samplerID]
	if sampler == nil {
		return ""
	}
	start := []string{}
	for _, name := range []string{"latent_image", "latent", "samples", "image_embeds"} {
		if src, _, ok := LinkRef(sampler.Inputs[name]); ok {
			start = append(start, src)
		}
	}
	if len(start) == 0 {
		return ""
	}

	letter := ""
	upstreamWalk(g, start, maxLocalDepth, func(id string, node *Node, depth int) bool {
		if letter != "" {
			return false
		}
		class := node.ClassType
		lower := strings.ToLower(class)
		switch {
		case strings.HasPrefix(class, "EmptyLatent") || strings.Contains(lower, "emptylatent") ||
			strings.Contains(lower, "empty_latent"):
			letter = "T"
			return false
		case strings.HasPrefix(class, "VAEEncode"):
			letter = encodeOriginLetter(g, id)
			return false
		case class == "LoadLatent":
			letter = "I"
			return false
		case strings.Contains(lower, "loadaudio"):
			letter = "A"
			return false
		}
		return true
	})
	return letter
}

// encodeOriginLetter resolves what media feeds a VAEEncode node.
func encodeOriginLetter(g Graph, encodeID string) string {
	node := g[encodeID]
	if node == nil {
		return "I"
	}
	src, _, ok := LinkRef(node.Inputs["pixels"])
	if !ok {
		return "I"
	}
	letter := "I"
	upstreamWalk(g, []string{src}, maxLocalDepth, func(id string, n *Node, depth int) bool {
		lower := strings.ToLower(n.ClassType)
		switch {
		case strings.Contains(lower, "loadvideo"):
			letter = "V"
			return false
		case strings.Contains(lower, "loadimage"):
			letter = "I"
			return false
		}
		return true
	})
	return letter
}

// scanGraphInputLetter scans the whole graph for input signals when no
// main path determines the origin; precedence A > V > I > T.
func scanGraphInputLetter(g Graph) string {
	hasAudio, hasVideo, hasImage := false, false, false
	for _, id := range sortedIDs(g) {
		lower := strings.ToLower(g[id].ClassType)
		switch {
		case strings.Contains(lower, "loadaudio"):
			hasAudio = true
		case strings.Contains(lower, "loadvideo"):
			hasVideo = true
		case strings.Contains(lower, "loadimage"):
			hasImage = true
		}
	}
	switch {
	case hasAudio:
		return "A"
	case hasVideo:
		return "V"
	case hasImage:
		return "I"
	default:
		return ""
	}
}

// isMediaPipeline reports whether the graph is load/save plumbing with
// no sampler anywhere: a format conversion, not a generation.
func isMediaPipeline(g Graph) bool {
	if len(g) == 0 {
		return false
	}
	hasLoader, hasSink := false, false
	for _, id := range sortedIDs(g) {
		node := g[id]
		if isSamplerNode(node) || isAdvancedOrchestrator(node) {
			return false
		}
		if _, ok := isSink(node.ClassType); ok {
			hasSink = true
		}
		if strings.HasPrefix(strings.ToLower(node.ClassType), "load") {
			hasLoader = true
		}
	}
	return hasLoader && hasSink
}
