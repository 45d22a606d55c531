package geninfo

// TextParams is the scalar output of an Auto1111-style parameters text
// parser; FromTextParams lifts it into a GenInfo with uniform
// provenance.
type TextParams struct {
	Prompt         string
	NegativePrompt string
	Steps          *int64
	Sampler        string
	CFG            *float64
	Seed           *int64
	Width          *int
	Height         *int
	Model          string
}

// FromTextParams builds a GenInfo out of parsed parameters text. Every
// field carries high confidence and the literal source "parameters";
// the text states the values outright, there is nothing to infer.
func FromTextParams(p TextParams) *GenInfo {
	const source = "parameters"
	gi := &GenInfo{Engine: Engine{ParserVersion: ParserVersion, SelectionMode: source}}

	if p.Prompt != "" {
		gi.Positive = &Field{Value: p.Prompt, Confidence: ConfidenceHigh, Source: source}
	}
	if p.NegativePrompt != "" {
		gi.Negative = &Field{Value: p.NegativePrompt, Confidence: ConfidenceHigh, Source: source}
	}
	if p.Steps != nil {
		gi.Steps = &Field{Value: *p.Steps, Confidence: ConfidenceHigh, Source: source}
	}
	if p.Sampler != "" {
		gi.Sampler = &NameField{Name: p.Sampler, Confidence: ConfidenceHigh, Source: source}
	}
	if p.CFG != nil {
		gi.CFG = &Field{Value: *p.CFG, Confidence: ConfidenceHigh, Source: source}
	}
	if p.Seed != nil {
		gi.Seed = &Field{Value: *p.Seed, Confidence: ConfidenceHigh, Source: source}
	}
	if p.Width != nil && p.Height != nil {
		gi.Size = &Size{Width: *p.Width, Height: *p.Height, Source: source}
	}
	if p.Model != "" {
		cp := &NameField{Name: StripModelExt(p.Model), Confidence: ConfidenceHigh, Source: source}
		gi.Checkpoint = cp
		gi.Models = &Models{Checkpoint: cp}
	}

	if gi.Positive == nil && gi.Steps == nil && gi.Seed == nil && gi.Checkpoint == nil {
		return nil
	}
	return gi
}
