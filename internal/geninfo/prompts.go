package geninfo

import (
	"sort"
	"strings"
)

// promptText is a collected prompt with the node it came from.
type promptText struct {
	id   string
	node *Node
	text string
}

// conditioningPassthrough are node classes the prompt walk may traverse
// without treating them as a text source.
var conditioningPassthrough = []string{
	"ConditioningCombine", "ConditioningConcat", "ConditioningAverage",
	"ConditioningSetArea", "ConditioningSetAreaPercentage",
	"ConditioningSetTimestepRange", "ConditioningSetMask",
	"ControlNetApply", "ControlNetApplyAdvanced",
	"FluxGuidance", "CFGGuider", "BasicGuider", "DualCFGGuider",
	"InstructPixToPixConditioning",
}

// isTextEncoder reports whether the node encodes prompt text: it has a
// linked clip input and a text-like field, or is a known video text
// encoder carrying embedded prompt fields.
func isTextEncoder(node *Node) (textInput string, ok bool) {
	for _, name := range []string{"text", "prompt"} {
		if v, exists := node.Inputs[name]; exists {
			if _, isStr := v.(string); isStr {
				if isLink(node, "clip") {
					return name, true
				}
				// Conditioning-text nodes without a clip link still
				// count when the class names text encoding.
				lower := strings.ToLower(node.ClassType)
				if strings.Contains(lower, "textencode") || strings.Contains(lower, "text_encode") ||
					strings.Contains(lower, "cliptext") {
					return name, true
				}
			}
		}
	}
	return "", false
}

// videoEncodePromptField resolves prompt fields on WanVideoTextEncode /
// HyVideoTextEncode style nodes that feed samplers via text_embeds.
func videoEncodePromptField(node *Node, negative bool) (string, bool) {
	lower := strings.ToLower(node.ClassType)
	if !strings.Contains(lower, "textencode") {
		return "", false
	}
	names := []string{"positive", "positive_prompt", "prompt"}
	if negative {
		names = []string{"negative", "negative_prompt"}
	}
	for _, name := range names {
		if s, ok := node.Inputs[name].(string); ok && strings.TrimSpace(s) != "" {
			return name, true
		}
	}
	return "", false
}

// collectPrompt walks upstream from a sampler's conditioning link and
// gathers prompt text. The negative branch prunes ConditioningZeroOut
// paths: a zeroed conditioning means "no negative prompt" regardless of
// the text behind it.
func collectPrompt(g Graph, samplerID string, inputNames []string, negative bool) *Field {
	node := g[samplerID]
	if node == nil {
		return nil
	}

	var start []string
	for _, name := range inputNames {
		if src, _, ok := LinkRef(node.Inputs[name]); ok {
			start = append(start, src)
		}
	}
	if len(start) == 0 {
		return nil
	}

	var texts []promptText
	upstreamWalk(g, start, maxGraphDepth, func(id string, n *Node, depth int) bool {
		if negative && strings.Contains(n.ClassType, "ConditioningZeroOut") {
			return false
		}
		if field, ok := isTextEncoder(n); ok {
			if s, ok := n.Inputs[field].(string); ok && strings.TrimSpace(s) != "" {
				texts = append(texts, promptText{id: id, node: n, text: s})
			}
			return true
		}
		if field, ok := videoEncodePromptField(n, negative); ok {
			s, _ := n.Inputs[field].(string)
			texts = append(texts, promptText{id: id, node: n, text: s})
			return true
		}
		return true
	})

	if len(texts) == 0 {
		return nil
	}

	// Deterministic ordering by numeric node id.
	sort.Slice(texts, func(i, j int) bool {
		ri, rj := nodeIDRank(texts[i].id), nodeIDRank(texts[j].id)
		if ri != rj {
			return ri < rj
		}
		return texts[i].id < texts[j].id
	})

	first := texts[0]
	joined := first.text
	if len(texts) > 1 {
		parts := make([]string, len(texts))
		for i, t := range texts {
			parts[i] = t.text
		}
		joined = strings.Join(parts, "\n")
	}
	confidence := ConfidenceHigh
	if len(texts) > 1 {
		confidence = ConfidenceMedium
	}
	return &Field{Value: joined, Confidence: confidence, Source: fieldSource(first.node, first.id, "")}
}

// collectAllPrompts gathers distinct positive and negative prompts
// across the first sinkLimit sinks for multi-sink graphs.
func collectAllPrompts(g Graph, sinks []sinkInfo, sinkLimit int) (positives, negatives []string) {
	seenPos := map[string]bool{}
	seenNeg := map[string]bool{}
	for i, sink := range sinks {
		if i >= sinkLimit {
			break
		}
		samplerID, _ := selectSampler(g, sink)
		if samplerID == "" {
			continue
		}
		if f := collectPrompt(g, samplerID, positiveInputs, false); f != nil {
			if s, ok := f.Value.(string); ok && !seenPos[s] {
				seenPos[s] = true
				positives = append(positives, s)
			}
		}
		if f := collectPrompt(g, samplerID, negativeInputs, true); f != nil {
			if s, ok := f.Value.(string); ok && !seenNeg[s] {
				seenNeg[s] = true
				negatives = append(negatives, s)
			}
		}
	}
	return positives, negatives
}

// Conditioning input names checked for prompt walks. Advanced guiders
// route conditioning through the guider node.
var (
	positiveInputs = []string{"positive", "conditioning", "guider", "text_embeds"}
	negativeInputs = []string{"negative"}
)
