package geninfo

import (
	"fmt"
	"strings"
)

// Confidence grades how directly a field was read from the graph.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Field is one extracted value with its provenance. Values are never
// returned bare; callers always see where a number came from.
type Field struct {
	Value      any        `json:"value"`
	Confidence Confidence `json:"confidence"`
	Source     string     `json:"source"`
}

// NameField is a Field specialized for identifier-like values.
type NameField struct {
	Name       string     `json:"name"`
	Confidence Confidence `json:"confidence"`
	Source     string     `json:"source"`
}

// fieldSource formats the provenance tag "ClassType:node_id[:input]".
func fieldSource(node *Node, id string, input string) string {
	if input == "" {
		return fmt.Sprintf("%s:%s", node.ClassType, id)
	}
	return fmt.Sprintf("%s:%s:%s", node.ClassType, id, input)
}

// ksamplerWidgetOrder is the canonical widgets_values layout of a
// KSampler node, used when inputs carry no scalars (LiteGraph form).
var ksamplerWidgetOrder = []string{"seed", "control_after_generate", "steps", "cfg", "sampler_name", "scheduler", "denoise"}

// samplerFields are the scalar inputs lifted directly off a sampler.
type samplerFields struct {
	SamplerName *NameField
	Scheduler   *Field
	Steps       *Field
	CFG         *Field
	Seed        *Field
	Denoise     *Field
}

// extractSamplerFields reads sampler parameters from the node's inputs,
// with a widget-order fallback for LiteGraph exports.
func extractSamplerFields(g Graph, id string) samplerFields {
	node := g[id]
	var out samplerFields
	if node == nil {
		return out
	}

	scalar := func(name string) (any, bool) {
		v, ok := node.Inputs[name]
		if !ok {
			return nil, false
		}
		if _, _, isLink := LinkRef(v); isLink {
			return nil, false
		}
		return v, true
	}

	if v, ok := scalar("sampler_name"); ok {
		if s, ok := v.(string); ok {
			out.SamplerName = &NameField{Name: s, Confidence: ConfidenceHigh, Source: fieldSource(node, id, "sampler_name")}
		}
	}
	if v, ok := scalar("scheduler"); ok {
		out.Scheduler = &Field{Value: v, Confidence: ConfidenceHigh, Source: fieldSource(node, id, "scheduler")}
	}
	if v, ok := scalar("steps"); ok {
		if n, ok := toInt64(v); ok {
			out.Steps = &Field{Value: n, Confidence: ConfidenceHigh, Source: fieldSource(node, id, "steps")}
		}
	}
	if v, ok := scalar("cfg"); ok {
		if f, ok := toFloat(v); ok {
			out.CFG = &Field{Value: f, Confidence: ConfidenceHigh, Source: fieldSource(node, id, "cfg")}
		}
	}
	for _, seedName := range []string{"seed", "noise_seed"} {
		if out.Seed != nil {
			break
		}
		if v, ok := scalar(seedName); ok {
			if n, ok := toInt64(v); ok {
				out.Seed = &Field{Value: n, Confidence: ConfidenceHigh, Source: fieldSource(node, id, seedName)}
			}
		}
	}
	if v, ok := scalar("denoise"); ok {
		if f, ok := toFloat(v); ok {
			out.Denoise = &Field{Value: f, Confidence: ConfidenceHigh, Source: fieldSource(node, id, "denoise")}
		}
	}

	if out.hasAnyScalar() || len(node.WidgetValues) == 0 {
		return out
	}
	return extractWidgetFallback(node, id, out)
}

func (f samplerFields) hasAnyScalar() bool {
	return f.Steps != nil || f.CFG != nil || f.Seed != nil || f.SamplerName != nil
}

// extractWidgetFallback maps widgets_values onto the canonical KSampler
// layout. Confidence drops to medium; the layout is conventional, not
// declared.
func extractWidgetFallback(node *Node, id string, out samplerFields) samplerFields {
	wv := node.WidgetValues
	for i, name := range ksamplerWidgetOrder {
		if i >= len(wv) {
			break
		}
		src := fieldSource(node, id, fmt.Sprintf("widgets[%d]", i))
		switch name {
		case "seed":
			if n, ok := toInt64(wv[i]); ok && out.Seed == nil {
				out.Seed = &Field{Value: n, Confidence: ConfidenceMedium, Source: src}
			}
		case "steps":
			if n, ok := toInt64(wv[i]); ok && out.Steps == nil {
				out.Steps = &Field{Value: n, Confidence: ConfidenceMedium, Source: src}
			}
		case "cfg":
			if f, ok := toFloat(wv[i]); ok && out.CFG == nil {
				out.CFG = &Field{Value: f, Confidence: ConfidenceMedium, Source: src}
			}
		case "sampler_name":
			if s, ok := wv[i].(string); ok && out.SamplerName == nil {
				out.SamplerName = &NameField{Name: s, Confidence: ConfidenceMedium, Source: src}
			}
		case "scheduler":
			if s, ok := wv[i].(string); ok && out.Scheduler == nil {
				out.Scheduler = &Field{Value: s, Confidence: ConfidenceMedium, Source: src}
			}
		case "denoise":
			if f, ok := toFloat(wv[i]); ok && out.Denoise == nil {
				out.Denoise = &Field{Value: f, Confidence: ConfidenceMedium, Source: src}
			}
		}
	}
	return out
}

// resolveAdvancedFields fills parameters for SamplerCustom-style
// orchestrators by following the helper links:
//
//	sampler → KSamplerSelect.sampler_name
//	sigmas  → BasicScheduler.{steps, scheduler, denoise}
//	noise   → RandomNoise.noise_seed
//	guider  → CFGGuider.cfg, or FluxGuidance.guidance upstream of the
//	          guider's conditioning.
func resolveAdvancedFields(g Graph, id string, base samplerFields) samplerFields {
	node := g[id]
	if node == nil {
		return base
	}

	if base.SamplerName == nil {
		if src, _, ok := LinkRef(node.Inputs["sampler"]); ok {
			if sel, ok := g[src]; ok {
				if name, ok := sel.Inputs["sampler_name"].(string); ok {
					base.SamplerName = &NameField{Name: name, Confidence: ConfidenceHigh, Source: fieldSource(sel, src, "sampler_name")}
				}
			}
		}
	}

	if src, _, ok := LinkRef(node.Inputs["sigmas"]); ok {
		if sched, ok := g[src]; ok {
			if base.Steps == nil {
				if v, ok := sched.Inputs["steps"]; ok {
					if n, ok := toInt64(v); ok {
						base.Steps = &Field{Value: n, Confidence: ConfidenceHigh, Source: fieldSource(sched, src, "steps")}
					}
				}
			}
			if base.Scheduler == nil {
				if v, ok := sched.Inputs["scheduler"].(string); ok {
					base.Scheduler = &Field{Value: v, Confidence: ConfidenceHigh, Source: fieldSource(sched, src, "scheduler")}
				}
			}
			if base.Denoise == nil {
				if v, ok := sched.Inputs["denoise"]; ok {
					if f, ok := toFloat(v); ok {
						base.Denoise = &Field{Value: f, Confidence: ConfidenceHigh, Source: fieldSource(sched, src, "denoise")}
					}
				}
			}
		}
	}

	if base.Seed == nil {
		if src, _, ok := LinkRef(node.Inputs["noise"]); ok {
			if noise, ok := g[src]; ok {
				for _, name := range []string{"noise_seed", "seed"} {
					if v, ok := noise.Inputs[name]; ok {
						if n, ok := toInt64(v); ok {
							base.Seed = &Field{Value: n, Confidence: ConfidenceHigh, Source: fieldSource(noise, src, name)}
							break
						}
					}
				}
			}
		}
	}

	if base.CFG == nil {
		if src, _, ok := LinkRef(node.Inputs["guider"]); ok {
			if guider, ok := g[src]; ok {
				if v, ok := guider.Inputs["cfg"]; ok {
					if f, ok := toFloat(v); ok {
						base.CFG = &Field{Value: f, Confidence: ConfidenceHigh, Source: fieldSource(guider, src, "cfg")}
					}
				}
				if base.CFG == nil {
					base.CFG = findFluxGuidance(g, src)
				}
			}
		}
	}
	return base
}

// findFluxGuidance walks the guider's conditioning links looking for a
// FluxGuidance node carrying the guidance scalar.
func findFluxGuidance(g Graph, guiderID string) *Field {
	var out *Field
	upstreamWalk(g, []string{guiderID}, maxLocalDepth, func(id string, node *Node, depth int) bool {
		if out != nil {
			return false
		}
		if strings.Contains(node.ClassType, "FluxGuidance") {
			if v, ok := node.Inputs["guidance"]; ok {
				if f, ok := toFloat(v); ok {
					out = &Field{Value: f, Confidence: ConfidenceHigh, Source: fieldSource(node, id, "guidance")}
					return false
				}
			}
		}
		return true
	})
	return out
}
