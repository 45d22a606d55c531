// Package geninfo interprets a generation node-graph embedded in media
// files and derives structured prompt/model/sampler info. The parser is
// deterministic and refuses to guess: every extracted field names the
// node it came from, and graphs without a recognizable pipeline yield
// no fields at all.
package geninfo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Traversal guards. User-supplied graphs may be huge or cyclic; every
// walk is iterative with a visited set and these hard caps.
const (
	maxGraphNodes = 5000
	maxGraphDepth = 100
	maxLocalDepth = 25
)

// Node is one node of the normalized prompt graph.
type Node struct {
	ClassType string
	Inputs    map[string]any
	// WidgetValues carries LiteGraph widgets_values for fallback field
	// extraction when Inputs lacks scalars.
	WidgetValues []any
	Title        string
}

// Graph is the normalized prompt-graph form: node id → node.
type Graph map[string]*Node

// LinkRef decodes a node input that references another node's output:
// a two-element array [src_node_id, slot].
func LinkRef(v any) (id string, slot int, ok bool) {
	arr, isArr := v.([]any)
	if !isArr || len(arr) < 2 {
		return "", 0, false
	}
	switch src := arr[0].(type) {
	case string:
		id = src
	case float64:
		id = strconv.FormatInt(int64(src), 10)
	case int:
		id = strconv.Itoa(src)
	default:
		return "", 0, false
	}
	switch s := arr[1].(type) {
	case float64:
		slot = int(s)
	case int:
		slot = s
	default:
		return "", 0, false
	}
	return id, slot, true
}

// nodeIDRank orders node ids numerically; non-integer ids degrade to a
// large negative constant so integer ids always outrank them.
func nodeIDRank(id string) int64 {
	// Ids may be colon-delimited ("12:3"); rank by the leading number.
	head := id
	if i := strings.IndexByte(id, ':'); i >= 0 {
		head = id[:i]
	}
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return -1 << 62
	}
	return n
}

// sortedIDs returns graph node ids in deterministic numeric order.
func sortedIDs(g Graph) []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := nodeIDRank(ids[i]), nodeIDRank(ids[j])
		if ri != rj {
			return ri < rj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// NormalizeGraph accepts either the runtime prompt-graph shape (a map
// keyed by stringified node ids with class_type/inputs) or a LiteGraph
// workflow export (nodes+links lists) and converts both into Graph.
func NormalizeGraph(raw map[string]any) (Graph, error) {
	if raw == nil {
		return nil, nil
	}
	if nodes, ok := raw["nodes"].([]any); ok {
		links, _ := raw["links"].([]any)
		return fromLiteGraph(nodes, links)
	}
	return fromPromptGraph(raw)
}

func fromPromptGraph(raw map[string]any) (Graph, error) {
	g := make(Graph, len(raw))
	for id, v := range raw {
		nodeMap, ok := v.(map[string]any)
		if !ok {
			continue
		}
		classType, ok := nodeMap["class_type"].(string)
		if !ok {
			continue
		}
		inputs, _ := nodeMap["inputs"].(map[string]any)
		if inputs == nil {
			inputs = map[string]any{}
		}
		node := &Node{ClassType: classType, Inputs: inputs}
		if meta, ok := nodeMap["_meta"].(map[string]any); ok {
			node.Title, _ = meta["title"].(string)
		}
		g[id] = node
	}
	if len(g) == 0 {
		return nil, nil
	}
	if len(g) > maxGraphNodes {
		return nil, fmt.Errorf("graph too large: %d nodes", len(g))
	}
	return g, nil
}

// fromLiteGraph rebuilds a prompt graph from the editor export: each
// link entry is [link_id, src_node, src_slot, tgt_node, tgt_slot, type]
// and node inputs name their incoming link id.
func fromLiteGraph(nodes []any, links []any) (Graph, error) {
	if len(nodes) > maxGraphNodes {
		return nil, fmt.Errorf("graph too large: %d nodes", len(nodes))
	}

	// link id → [src_node_id, src_slot]
	linkSrc := make(map[int64][]any, len(links))
	for _, l := range links {
		arr, ok := l.([]any)
		if !ok || len(arr) < 6 {
			continue
		}
		linkID, ok1 := toInt64(arr[0])
		srcNode, ok2 := toInt64(arr[1])
		srcSlot, ok3 := toInt64(arr[2])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		linkSrc[linkID] = []any{strconv.FormatInt(srcNode, 10), float64(srcSlot)}
	}

	g := make(Graph, len(nodes))
	for _, n := range nodes {
		nodeMap, ok := n.(map[string]any)
		if !ok {
			continue
		}
		idNum, ok := toInt64(nodeMap["id"])
		if !ok {
			continue
		}
		classType, _ := nodeMap["type"].(string)
		if classType == "" {
			continue
		}

		node := &Node{ClassType: classType, Inputs: map[string]any{}}
		node.Title, _ = nodeMap["title"].(string)
		if wv, ok := nodeMap["widgets_values"].([]any); ok {
			node.WidgetValues = wv
		}

		if inputs, ok := nodeMap["inputs"].([]any); ok {
			for _, in := range inputs {
				inMap, ok := in.(map[string]any)
				if !ok {
					continue
				}
				name, _ := inMap["name"].(string)
				if name == "" {
					continue
				}
				linkID, hasLink := toInt64(inMap["link"])
				if !hasLink {
					continue
				}
				if src, ok := linkSrc[linkID]; ok {
					node.Inputs[name] = src
				}
			}
		}
		g[strconv.FormatInt(idNum, 10)] = node
	}
	if len(g) == 0 {
		return nil, nil
	}
	return g, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// upstreamWalk runs a bounded BFS over link inputs starting from the
// given node ids. visit returns false to stop expanding past a node.
func upstreamWalk(g Graph, start []string, maxDepth int, visit func(id string, node *Node, depth int) bool) {
	type item struct {
		id    string
		depth int
	}
	visited := make(map[string]bool, len(start))
	queue := make([]item, 0, len(start))
	for _, id := range start {
		if !visited[id] {
			visited[id] = true
			queue = append(queue, item{id, 0})
		}
	}
	for len(queue) > 0 && len(visited) <= maxGraphNodes {
		cur := queue[0]
		queue = queue[1:]
		node, ok := g[cur.id]
		if !ok {
			continue
		}
		if !visit(cur.id, node, cur.depth) {
			continue
		}
		if cur.depth >= maxDepth {
			continue
		}
		// Deterministic expansion order by input name.
		names := make([]string, 0, len(node.Inputs))
		for name := range node.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if src, _, ok := LinkRef(node.Inputs[name]); ok && !visited[src] {
				visited[src] = true
				queue = append(queue, item{src, cur.depth + 1})
			}
		}
	}
}
