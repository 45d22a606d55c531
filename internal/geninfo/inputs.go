package geninfo

import (
	"sort"
	"strings"
)

// InputFile is a media file consumed by the graph, with the role the
// downstream consumers imply.
type InputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type"`
	NodeID    string `json:"node_id"`
	Role      string `json:"role"`
}

// loaderClasses map loader node classes to their media type and the
// input carrying the filename.
var loaderClasses = map[string]struct {
	mediaType string
	nameInput string
}{
	"LoadImage":            {"image", "image"},
	"LoadImageMask":        {"image", "image"},
	"VHS_LoadVideo":        {"video", "video"},
	"VHS_LoadVideoPath":    {"video", "video"},
	"LoadVideo":            {"video", "file"},
	"LoadAudio":            {"audio", "audio"},
	"VHS_LoadAudio":        {"audio", "audio"},
	"LoadLatent":           {"latent", "latent"},
	"IPAdapterImageLoader": {"image", "image"},
	"LoadImageFromPath":    {"image", "image"},
}

// Role labels ordered by priority; competing labels collapse to the
// highest-priority one so the outcome is deterministic.
var rolePriority = []string{
	"control", "ipadapter", "mask", "inpaint", "depth",
	"vaeencode", "video_ref", "audio_ref", "reference",
}

func rolePrio(role string) int {
	for i, r := range rolePriority {
		if r == role {
			return i
		}
	}
	return len(rolePriority)
}

// collectInputFiles finds every loader node and infers each one's role
// from its first meaningful downstream consumer.
func collectInputFiles(g Graph) []InputFile {
	downstream := buildDownstream(g)

	var out []InputFile
	for _, id := range sortedIDs(g) {
		node := g[id]
		loader, ok := loaderClasses[node.ClassType]
		if !ok {
			lower := strings.ToLower(node.ClassType)
			if !strings.HasPrefix(lower, "load") {
				continue
			}
			// Heuristic loaders: any Load* class with a string filename.
			switch {
			case strings.Contains(lower, "video"):
				loader = struct{ mediaType, nameInput string }{"video", "video"}
			case strings.Contains(lower, "audio"):
				loader = struct{ mediaType, nameInput string }{"audio", "audio"}
			case strings.Contains(lower, "image"):
				loader = struct{ mediaType, nameInput string }{"image", "image"}
			default:
				continue
			}
		}

		filename, _ := node.Inputs[loader.nameInput].(string)
		if filename == "" {
			// Some loaders carry the path in other inputs.
			for _, alt := range []string{"file", "path", "filename", "url"} {
				if s, ok := node.Inputs[alt].(string); ok && s != "" {
					filename = s
					break
				}
			}
		}
		if filename == "" {
			continue
		}

		subfolder, _ := node.Inputs["subfolder"].(string)
		out = append(out, InputFile{
			Filename:  filename,
			Subfolder: subfolder,
			Type:      loader.mediaType,
			NodeID:    id,
			Role:      inferRole(g, downstream, id),
		})
	}
	return out
}

// buildDownstream inverts the link graph: node id → consumer ids.
func buildDownstream(g Graph) map[string][]string {
	down := make(map[string][]string, len(g))
	for _, id := range sortedIDs(g) {
		node := g[id]
		for _, name := range sortedInputNames(node) {
			if src, _, ok := LinkRef(node.Inputs[name]); ok {
				down[src] = append(down[src], id)
			}
		}
	}
	for _, consumers := range down {
		sort.Slice(consumers, func(i, j int) bool {
			return nodeIDRank(consumers[i]) < nodeIDRank(consumers[j])
		})
	}
	return down
}

// inferRole BFS-walks downstream from a loader to the first meaningful
// consumer and maps its class to a role label. Bounded like every graph
// walk; competing labels collapse by priority.
func inferRole(g Graph, down map[string][]string, loaderID string) string {
	type item struct {
		id    string
		depth int
	}
	visited := map[string]bool{loaderID: true}
	queue := []item{{loaderID, 0}}
	best := ""

	for len(queue) > 0 && len(visited) <= maxGraphNodes {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxLocalDepth {
			continue
		}
		for _, next := range down[cur.id] {
			if visited[next] {
				continue
			}
			visited[next] = true
			node := g[next]
			if node == nil {
				continue
			}
			role := classRole(node.ClassType)
			if role != "" {
				if best == "" || rolePrio(role) < rolePrio(best) {
					best = role
				}
				continue
			}
			queue = append(queue, item{next, cur.depth + 1})
		}
	}
	if best == "" {
		return "reference"
	}
	return best
}

// classRole maps a consumer class name onto a role label, "" when the
// consumer is not meaningful (pass-throughs, previews).
func classRole(class string) string {
	lower := strings.ToLower(class)
	switch {
	case strings.Contains(lower, "controlnet"):
		return "control"
	case strings.Contains(lower, "ipadapter"):
		return "ipadapter"
	case strings.Contains(lower, "inpaint"):
		return "inpaint"
	case strings.Contains(lower, "mask"):
		return "mask"
	case strings.Contains(lower, "depth") || strings.Contains(lower, "marigold"):
		return "depth"
	case strings.Contains(lower, "vaeencode"):
		return "vaeencode"
	case strings.Contains(lower, "wanvideo") || strings.Contains(lower, "hyvideo"):
		return "video_ref"
	case strings.Contains(lower, "audioencode") || strings.Contains(lower, "mmaudio"):
		return "audio_ref"
	default:
		return ""
	}
}
