package geninfo

import (
	"strings"
)

// Sampler selection modes reported in the engine sub-object.
const (
	selectPrimary  = "primary"
	selectAdvanced = "advanced"
	selectGlobal   = "global"
)

// explicitSamplers are classes that are always samplers.
var explicitSamplers = map[string]bool{
	"KSampler":                true,
	"KSamplerAdvanced":        true,
	"KSampler (Efficient)":    true,
	"KSamplerSelect":          false, // selects an algorithm, not a sampler node
	"SamplerCustom":           true,
	"SamplerCustomAdvanced":   true,
	"WanVideoSampler":         true,
	"HyVideoSampler":          true,
	"LTXVSampler":             true,
	"MarigoldDepthEstimation": true,
	"FluxSamplerParams+":      true,
	"XlabsSampler":            true,
	"SeargeSDXLSampler":       true,
	"ImpactKSamplerBasicPipe": true,
	"TiledKSampler":           true,
	"BNK_TiledKSampler":       true,
	"SamplerCustomAdvanced+":  true,
}

// advancedOrchestrators are samplers that delegate their parameters to
// linked helper nodes (scheduler, noise, guider, sampler-select).
var advancedOrchestrators = map[string]bool{
	"SamplerCustom":          true,
	"SamplerCustomAdvanced":  true,
	"SamplerCustomAdvanced+": true,
}

// isSamplerNode reports whether a node performs the core sampling step.
// Explicit class membership first; then the steps+cfg+seed signature;
// then a small set of name patterns.
func isSamplerNode(node *Node) bool {
	if explicitSamplers[node.ClassType] {
		return true
	}
	if hasInput(node, "steps") && hasInput(node, "cfg") &&
		(hasInput(node, "seed") || hasInput(node, "noise_seed")) {
		return true
	}
	lower := strings.ToLower(node.ClassType)
	for _, pat := range []string{"ksampler", "wanvideosampler", "hyvideosampler", "marigold", "fluxsampler"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

func hasInput(node *Node, name string) bool {
	_, ok := node.Inputs[name]
	return ok
}

// isAdvancedOrchestrator reports whether a node is a SamplerCustom-style
// orchestrator: relaxed signature (guider+sigmas links) first, then the
// four-way noise/guider/sampler/sigmas form.
func isAdvancedOrchestrator(node *Node) bool {
	if advancedOrchestrators[node.ClassType] {
		return true
	}
	if isLink(node, "guider") && isLink(node, "sigmas") {
		return true
	}
	linked := 0
	for _, name := range []string{"noise", "guider", "sampler", "sigmas"} {
		if isLink(node, name) {
			linked++
		}
	}
	return linked >= 4
}

func isLink(node *Node, name string) bool {
	_, _, ok := LinkRef(node.Inputs[name])
	return ok
}

// selectSampler picks the primary sampler for a chosen sink by walking
// upstream from the sink's media inputs. Returns the sampler node id
// and the selection mode; empty id when the graph has no sampler.
func selectSampler(g Graph, sink sinkInfo) (id, mode string) {
	start := []string{}
	if node, ok := g[sink.id]; ok {
		start = sinkMediaSources(node)
	}

	var found, foundAdvanced string
	upstreamWalk(g, start, maxGraphDepth, func(nid string, node *Node, depth int) bool {
		if found != "" {
			return false
		}
		if isSamplerNode(node) {
			if isAdvancedOrchestrator(node) && foundAdvanced == "" {
				foundAdvanced = nid
			} else {
				found = nid
				return false
			}
		}
		return true
	})
	if found != "" {
		if isAdvancedOrchestrator(g[found]) {
			return found, selectAdvanced
		}
		return found, selectPrimary
	}
	if foundAdvanced != "" {
		return foundAdvanced, selectAdvanced
	}

	// Look for an orchestrator anywhere upstream even if it failed the
	// sampler check (guider+sigmas only).
	var orchestrator string
	upstreamWalk(g, start, maxGraphDepth, func(nid string, node *Node, depth int) bool {
		if orchestrator != "" {
			return false
		}
		if isAdvancedOrchestrator(node) {
			orchestrator = nid
			return false
		}
		return true
	})
	if orchestrator != "" {
		return orchestrator, selectAdvanced
	}

	// Last resort: best-scoring sampler in the whole graph.
	if best := selectGlobalSampler(g); best != "" {
		return best, selectGlobal
	}
	return "", ""
}

// selectGlobalSampler scores every sampler-ish node in the graph and
// returns the best one. Scoring favors a linked model, linked
// conditioning and the count of sampling-ish scalar inputs.
func selectGlobalSampler(g Graph) string {
	bestScore := 0
	bestID := ""
	for _, id := range sortedIDs(g) {
		node := g[id]
		if !isSamplerNode(node) && !isAdvancedOrchestrator(node) {
			continue
		}
		score := 1
		if isLink(node, "model") {
			score += 4
		}
		if isLink(node, "positive") || isLink(node, "conditioning") || isLink(node, "guider") {
			score += 3
		}
		if isLink(node, "negative") {
			score += 1
		}
		for _, name := range []string{"steps", "cfg", "seed", "noise_seed", "denoise", "sampler_name", "scheduler", "sigmas"} {
			if hasInput(node, name) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	return bestID
}
