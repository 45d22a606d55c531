package geninfo

import (
	"sort"
	"strings"
)

// modelExtensions are stripped from model identifiers.
var modelExtensions = []string{".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".gguf", ".json"}

// StripModelExt removes a known model file extension, leaving the bare
// identifier (subfolder prefixes are kept).
func StripModelExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range modelExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// LoRA is one applied LoRA with its strength, when declared.
type LoRA struct {
	Name     string   `json:"name"`
	Strength *float64 `json:"strength,omitempty"`
	NodeID   string   `json:"node_id"`
}

// Models aggregates the model chain behind the sampler.
type Models struct {
	Checkpoint *NameField `json:"checkpoint,omitempty"`
	LoRAs      []LoRA     `json:"loras,omitempty"`
	CLIP       *NameField `json:"clip,omitempty"`
	VAE        *NameField `json:"vae,omitempty"`
}

// checkpointLoaders terminate the model chain walk.
var checkpointLoaders = map[string]string{
	"CheckpointLoaderSimple":    "ckpt_name",
	"CheckpointLoader":          "ckpt_name",
	"UNETLoader":                "unet_name",
	"UnetLoaderGGUF":            "unet_name",
	"DiffusionModelLoader":      "model_name",
	"ImageOnlyCheckpointLoader": "ckpt_name",
	"WanVideoModelLoader":       "model",
	"HyVideoModelLoader":        "model",
	"CheckpointLoaderNF4":       "ckpt_name",
}

// loraLoaders map simple LoRA loader classes to their name input.
var loraLoaders = map[string]string{
	"LoraLoader":          "lora_name",
	"LoraLoaderModelOnly": "lora_name",
	"LoRALoader":          "lora_name",
}

// collectModelChain walks upstream from the sampler's model link,
// gathering LoRAs until a checkpoint/unet loader terminates the chain.
func collectModelChain(g Graph, samplerID string) Models {
	var out Models
	sampler := g[samplerID]
	if sampler == nil {
		return out
	}

	start := []string{}
	for _, name := range []string{"model", "base_model"} {
		if src, _, ok := LinkRef(sampler.Inputs[name]); ok {
			start = append(start, src)
		}
	}
	// Advanced orchestrators hide the model behind the guider.
	if len(start) == 0 {
		if src, _, ok := LinkRef(sampler.Inputs["guider"]); ok {
			if guider, ok := g[src]; ok {
				if msrc, _, ok := LinkRef(guider.Inputs["model"]); ok {
					start = append(start, msrc)
				}
			}
		}
	}
	if len(start) == 0 {
		return out
	}

	upstreamWalk(g, start, maxGraphDepth, func(id string, node *Node, depth int) bool {
		if nameInput, ok := checkpointLoaders[node.ClassType]; ok {
			if out.Checkpoint == nil {
				if name, ok := node.Inputs[nameInput].(string); ok {
					out.Checkpoint = &NameField{
						Name:       StripModelExt(name),
						Confidence: ConfidenceHigh,
						Source:     fieldSource(node, id, nameInput),
					}
				}
			}
			return false
		}
		if nameInput, ok := loraLoaders[node.ClassType]; ok {
			if name, ok := node.Inputs[nameInput].(string); ok {
				lora := LoRA{Name: StripModelExt(name), NodeID: id}
				if s, ok := toFloat(node.Inputs["strength_model"]); ok {
					lora.Strength = &s
				}
				out.LoRAs = append(out.LoRAs, lora)
			}
			return true
		}
		if strings.Contains(node.ClassType, "Power Lora Loader") || strings.Contains(node.ClassType, "PowerLoraLoader") {
			out.LoRAs = append(out.LoRAs, collectPowerLoras(node, id)...)
			return true
		}
		return true
	})

	sort.SliceStable(out.LoRAs, func(i, j int) bool {
		return nodeIDRank(out.LoRAs[i].NodeID) < nodeIDRank(out.LoRAs[j].NodeID)
	})
	return out
}

// collectPowerLoras decodes rgthree-style multi-entry LoRA loaders:
// inputs lora_1..lora_N are dicts {on, lora, strength}.
func collectPowerLoras(node *Node, id string) []LoRA {
	var out []LoRA
	names := sortedInputNames(node)
	for _, name := range names {
		if !strings.HasPrefix(name, "lora_") {
			continue
		}
		entry, ok := node.Inputs[name].(map[string]any)
		if !ok {
			continue
		}
		if on, ok := entry["on"].(bool); ok && !on {
			continue
		}
		loraName, ok := entry["lora"].(string)
		if !ok || loraName == "" {
			continue
		}
		lora := LoRA{Name: StripModelExt(loraName), NodeID: id}
		if s, ok := toFloat(entry["strength"]); ok {
			lora.Strength = &s
		}
		out = append(out, lora)
	}
	return out
}

// traceCLIP resolves the CLIP model by following the positive text
// encoder's clip link down to a loader (DualCLIPLoader included).
func traceCLIP(g Graph, samplerID string) *NameField {
	sampler := g[samplerID]
	if sampler == nil {
		return nil
	}
	var encoderID string
	for _, name := range positiveInputs {
		if src, _, ok := LinkRef(sampler.Inputs[name]); ok {
			upstreamWalk(g, []string{src}, maxLocalDepth, func(id string, node *Node, depth int) bool {
				if encoderID != "" {
					return false
				}
				if _, ok := isTextEncoder(node); ok {
					encoderID = id
					return false
				}
				return true
			})
		}
		if encoderID != "" {
			break
		}
	}
	if encoderID == "" {
		return nil
	}

	src, _, ok := LinkRef(g[encoderID].Inputs["clip"])
	if !ok {
		return nil
	}
	var out *NameField
	upstreamWalk(g, []string{src}, maxLocalDepth, func(id string, node *Node, depth int) bool {
		if out != nil {
			return false
		}
		switch node.ClassType {
		case "CLIPLoader", "CLIPLoaderGGUF":
			if name, ok := node.Inputs["clip_name"].(string); ok {
				out = &NameField{Name: StripModelExt(name), Confidence: ConfidenceHigh, Source: fieldSource(node, id, "clip_name")}
				return false
			}
		case "DualCLIPLoader":
			parts := []string{}
			for _, input := range []string{"clip_name1", "clip_name2"} {
				if name, ok := node.Inputs[input].(string); ok {
					parts = append(parts, StripModelExt(name))
				}
			}
			if len(parts) > 0 {
				out = &NameField{Name: strings.Join(parts, " + "), Confidence: ConfidenceHigh, Source: fieldSource(node, id, "clip_name1")}
				return false
			}
		case "CheckpointLoaderSimple", "CheckpointLoader":
			if name, ok := node.Inputs["ckpt_name"].(string); ok {
				out = &NameField{Name: StripModelExt(name), Confidence: ConfidenceMedium, Source: fieldSource(node, id, "ckpt_name")}
				return false
			}
		}
		return true
	})
	return out
}

// traceVAE finds the VAEDecode nearest the sink on the upstream set and
// resolves its vae link to a loader or checkpoint.
func traceVAE(g Graph, sink sinkInfo) *NameField {
	node := g[sink.id]
	if node == nil {
		return nil
	}
	var decodeID string
	upstreamWalk(g, sinkMediaSources(node), maxGraphDepth, func(id string, n *Node, depth int) bool {
		if decodeID != "" {
			return false
		}
		if strings.HasPrefix(n.ClassType, "VAEDecode") {
			decodeID = id
			return false
		}
		return true
	})
	if decodeID == "" {
		return nil
	}

	src, _, ok := LinkRef(g[decodeID].Inputs["vae"])
	if !ok {
		return nil
	}
	var out *NameField
	upstreamWalk(g, []string{src}, maxLocalDepth, func(id string, n *Node, depth int) bool {
		if out != nil {
			return false
		}
		switch n.ClassType {
		case "VAELoader":
			if name, ok := n.Inputs["vae_name"].(string); ok {
				out = &NameField{Name: StripModelExt(name), Confidence: ConfidenceHigh, Source: fieldSource(n, id, "vae_name")}
				return false
			}
		case "CheckpointLoaderSimple", "CheckpointLoader":
			if name, ok := n.Inputs["ckpt_name"].(string); ok {
				out = &NameField{Name: StripModelExt(name) + " (baked)", Confidence: ConfidenceMedium, Source: fieldSource(n, id, "ckpt_name")}
				return false
			}
		}
		return true
	})
	return out
}

// Size is the latent/output dimensions found behind the sampler.
type Size struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Source string `json:"source,omitempty"`
}

// traceSize walks the sampler's latent_image input through pass-through
// nodes until a node exposing width+height (EmptyLatentImage and kin).
func traceSize(g Graph, samplerID string) *Size {
	sampler := g[samplerID]
	if sampler == nil {
		return nil
	}
	start := []string{}
	for _, name := range []string{"latent_image", "latent", "samples"} {
		if src, _, ok := LinkRef(sampler.Inputs[name]); ok {
			start = append(start, src)
		}
	}
	if len(start) == 0 {
		return nil
	}

	var out *Size
	upstreamWalk(g, start, maxLocalDepth, func(id string, node *Node, depth int) bool {
		if out != nil {
			return false
		}
		w, wok := toInt64(node.Inputs["width"])
		h, hok := toInt64(node.Inputs["height"])
		if wok && hok && w > 0 && h > 0 {
			out = &Size{Width: int(w), Height: int(h), Source: fieldSource(node, id, "")}
			return false
		}
		return true
	})
	return out
}
