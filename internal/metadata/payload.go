// Package metadata orchestrates per-file metadata extraction: probe
// routing, per-kind extractors, embedded workflow/prompt discovery, the
// Auto1111 text parser and rating/tag normalization. Every public entry
// returns a record or a coded error; nothing here panics outward.
package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
)

// maxDecompressedPayload caps zlib-wrapped payloads after inflation.
// Anything larger is treated as hostile and dropped.
const maxDecompressedPayload = 10 << 20

// decodePayload extracts a JSON document from a tag value, unwrapping
// base64 and zlib layers. Returns nil when the value holds no JSON
// object.
func decodePayload(value string) map[string]any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if doc := tryParseObject([]byte(value)); doc != nil {
		return doc
	}

	// Base64 wrapper, possibly around zlib.
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		if doc := tryParseObject(decoded); doc != nil {
			return doc
		}
		if inflated := tryInflate(decoded); inflated != nil {
			if doc := tryParseObject(inflated); doc != nil {
				return doc
			}
		}
	}

	// Raw zlib without base64 (some writers embed binary directly).
	if inflated := tryInflate([]byte(value)); inflated != nil {
		return tryParseObject(inflated)
	}
	return nil
}

func tryParseObject(data []byte) map[string]any {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

// tryInflate decompresses zlib data with the hard size cap. Returns nil
// on any failure or when the cap is hit.
func tryInflate(data []byte) []byte {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	defer func() { _ = r.Close() }()

	limited := io.LimitReader(r, maxDecompressedPayload+1)
	out, err := io.ReadAll(limited)
	if err != nil || len(out) > maxDecompressedPayload {
		return nil
	}
	return out
}

// isWorkflowShape checks the editor-export shape: a dict with a nodes
// list whose entries carry type and id. No guessing: both fields must
// be present on the first node.
func isWorkflowShape(doc map[string]any) bool {
	nodes, ok := doc["nodes"].([]any)
	if !ok || len(nodes) == 0 {
		return false
	}
	first, ok := nodes[0].(map[string]any)
	if !ok {
		return false
	}
	_, hasType := first["type"]
	_, hasID := first["id"]
	return hasType && hasID
}

// isPromptGraphShape checks the runtime shape: keys are stringified
// numeric ids (optionally colon-delimited) and values carry class_type
// and inputs.
func isPromptGraphShape(doc map[string]any) bool {
	if len(doc) == 0 {
		return false
	}
	checked := 0
	for key, v := range doc {
		if !isNumericKey(key) {
			return false
		}
		node, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := node["class_type"].(string); !ok {
			return false
		}
		if _, ok := node["inputs"]; !ok {
			return false
		}
		checked++
		if checked >= 5 {
			break
		}
	}
	return checked > 0
}

func isNumericKey(key string) bool {
	if key == "" {
		return false
	}
	for _, part := range strings.Split(key, ":") {
		if part == "" {
			return false
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// foundPayloads is the result of scanning a tag map for embedded
// generation payloads.
type foundPayloads struct {
	Workflow   map[string]any
	Prompt     map[string]any
	Parameters string
}

// scanTagValue inspects one tag value for workflow/prompt JSON or a
// {"workflow":…, "prompt":…} wrapper. Updates found in place.
func (f *foundPayloads) scanTagValue(value string) {
	doc := decodePayload(value)
	if doc == nil {
		return
	}

	// Wrapper form: a single tag holding both payloads.
	if inner, ok := doc["workflow"].(map[string]any); ok && isWorkflowShape(inner) {
		if f.Workflow == nil {
			f.Workflow = inner
		}
		if p, ok := doc["prompt"].(map[string]any); ok && isPromptGraphShape(p) && f.Prompt == nil {
			f.Prompt = p
		}
		return
	}

	if isWorkflowShape(doc) {
		if f.Workflow == nil {
			f.Workflow = doc
		}
		return
	}
	if isPromptGraphShape(doc) {
		if f.Prompt == nil {
			f.Prompt = doc
		}
	}
}

// complete reports whether both payload kinds were found.
func (f *foundPayloads) complete() bool {
	return f.Workflow != nil && f.Prompt != nil
}
