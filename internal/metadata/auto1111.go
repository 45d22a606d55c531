package metadata

import (
	"strconv"
	"strings"

	"github.com/standardbeagle/mjrindex/internal/geninfo"
)

// Auto1111Params is the parsed form of an Auto1111-style parameters
// text blob.
type Auto1111Params struct {
	Prompt         string
	NegativePrompt string
	Steps          *int64
	Sampler        string
	CFG            *float64
	Seed           *int64
	Width          *int
	Height         *int
	Model          string
	Extra          map[string]string
}

// IsEmpty reports whether nothing at all was parsed.
func (p *Auto1111Params) IsEmpty() bool {
	return p.Prompt == "" && p.NegativePrompt == "" && p.Steps == nil &&
		p.Sampler == "" && p.Seed == nil && p.Model == ""
}

// ParseAuto1111 splits a parameters text blob into prompt, optional
// negative prompt, and the trailing key-value line. The layout is:
//
//	<prompt lines...>
//	Negative prompt: <negative lines...>
//	Steps: 20, Sampler: Euler a, CFG scale: 7, Seed: 123, Size: 512x512, Model: x
//
// Returns nil when the text carries none of the recognized markers;
// arbitrary prose must not parse as parameters.
func ParseAuto1111(text string) *Auto1111Params {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")

	// The key-value tail is the last line containing "Steps:".
	kvIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], "Steps:") {
			kvIdx = i
			break
		}
	}

	negIdx := -1
	for i, line := range lines {
		if kvIdx >= 0 && i >= kvIdx {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), "Negative prompt:") {
			negIdx = i
			break
		}
	}

	if kvIdx < 0 && negIdx < 0 {
		return nil
	}

	p := &Auto1111Params{Extra: map[string]string{}}

	promptEnd := len(lines)
	if negIdx >= 0 {
		promptEnd = negIdx
	} else if kvIdx >= 0 {
		promptEnd = kvIdx
	}
	p.Prompt = strings.TrimSpace(strings.Join(lines[:promptEnd], "\n"))

	if negIdx >= 0 {
		negEnd := len(lines)
		if kvIdx > negIdx {
			negEnd = kvIdx
		}
		negText := strings.Join(lines[negIdx:negEnd], "\n")
		negText = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(negText), "Negative prompt:"))
		p.NegativePrompt = negText
	}

	if kvIdx >= 0 {
		parseParamTail(p, lines[kvIdx])
	}

	if p.IsEmpty() {
		return nil
	}
	return p
}

// parseParamTail decodes the comma-separated key-value tail. Values may
// themselves contain colons (sampler names do not, hashes might), so
// splitting is on ", " pairs with a single "key: value" cut each.
func parseParamTail(p *Auto1111Params, line string) {
	for _, part := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "steps":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				p.Steps = &n
			}
		case "sampler":
			p.Sampler = value
		case "cfg scale", "cfg":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				p.CFG = &f
			}
		case "seed":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				p.Seed = &n
			}
		case "size":
			if w, h, ok := parseSize(value); ok {
				p.Width, p.Height = &w, &h
			}
		case "model":
			p.Model = value
		default:
			p.Extra[key] = value
		}
	}
}

// parseSize decodes "512x512" (also tolerating the unicode multiply
// sign some writers use).
func parseSize(s string) (w, h int, ok bool) {
	s = strings.ReplaceAll(s, "×", "x")
	left, right, found := strings.Cut(s, "x")
	if !found {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(left))
	h, err2 := strconv.Atoi(strings.TrimSpace(right))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// GenInfoFromParams lifts parsed parameters into a geninfo record.
func GenInfoFromParams(p *Auto1111Params) *geninfo.GenInfo {
	if p == nil {
		return nil
	}
	return geninfo.FromTextParams(geninfo.TextParams{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Steps:          p.Steps,
		Sampler:        p.Sampler,
		CFG:            p.CFG,
		Seed:           p.Seed,
		Width:          p.Width,
		Height:         p.Height,
		Model:          p.Model,
	})
}
