package geninfo

import (
	"strconv"

	"go.uber.org/zap"
)

// ParserVersion is reported in the engine sub-object so stored geninfo
// can be re-derived when the parser improves.
const ParserVersion = "2.3"

// multiSinkLimit caps how many sinks contribute to the all-prompts
// collections.
const multiSinkLimit = 20

// Engine describes how the parser arrived at its answer.
type Engine struct {
	ParserVersion string `json:"parser_version"`
	SinkClass     string `json:"sink_class,omitempty"`
	SelectionMode string `json:"sampler_selection,omitempty"`
}

// Status flags graphs that parse but are not generations.
type Status struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// GenInfo is the structured generation record derived from a prompt
// graph. Every populated field names its source node.
type GenInfo struct {
	Positive  *Field     `json:"positive,omitempty"`
	Negative  *Field     `json:"negative,omitempty"`
	Steps     *Field     `json:"steps,omitempty"`
	CFG       *Field     `json:"cfg,omitempty"`
	Seed      *Field     `json:"seed,omitempty"`
	Denoise   *Field     `json:"denoise,omitempty"`
	Sampler   *NameField `json:"sampler,omitempty"`
	Scheduler *Field     `json:"scheduler,omitempty"`

	// Checkpoint is mirrored at top level and inside Models.
	Checkpoint *NameField `json:"checkpoint,omitempty"`
	Models     *Models    `json:"models,omitempty"`

	Size       *Size       `json:"size,omitempty"`
	InputFiles []InputFile `json:"input_files,omitempty"`

	WorkflowType string `json:"workflow_type,omitempty"`

	AllPositivePrompts []string `json:"all_positive_prompts,omitempty"`
	AllNegativePrompts []string `json:"all_negative_prompts,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Engine   Engine         `json:"engine"`
}

// Score grades a GenInfo by the presence of its headline fields; used
// by the opportunistic re-parse to decide whether a fresh result is
// better than a stored one.
func (gi *GenInfo) Score() int {
	if gi == nil {
		return 0
	}
	score := 0
	if gi.Positive != nil {
		score += 4
	}
	if gi.Negative != nil {
		score += 2
	}
	if gi.Checkpoint != nil {
		score += 3
	}
	if gi.Sampler != nil {
		score += 2
	}
	if gi.Steps != nil {
		score++
	}
	if gi.Seed != nil {
		score++
	}
	if gi.Size != nil {
		score++
	}
	return score
}

// Parser derives GenInfo from prompt graphs.
type Parser struct {
	log *zap.Logger
}

// NewParser builds a parser. A nil logger is replaced with a no-op.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log}
}

// Parse interprets a prompt graph (with an optional workflow export for
// widget fallback and extra metadata). Returns (nil, nil, nil) when the
// graph yields nothing useful; a Status when the graph is a media-only
// pipeline. Never panics: an unexpected failure degrades to workflow
// metadata alone, or to nil.
func (p *Parser) Parse(promptGraph map[string]any, workflow map[string]any) (gi *GenInfo, status *Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("geninfo: parser panic, degrading", zap.Any("panic", r))
			if meta := workflowMetadata(workflow); meta != nil {
				gi = &GenInfo{Metadata: meta, Engine: Engine{ParserVersion: ParserVersion}}
			} else {
				gi = nil
			}
			status = nil
			err = nil
		}
	}()

	g, normErr := NormalizeGraph(promptGraph)
	if normErr != nil {
		p.log.Debug("geninfo: graph rejected", zap.Error(normErr))
		return nil, nil, nil
	}
	if g == nil && workflow != nil {
		g, normErr = NormalizeGraph(workflow)
		if normErr != nil {
			return nil, nil, nil
		}
	}
	if len(g) == 0 {
		return nil, nil, nil
	}

	// Merge LiteGraph widget values into the runtime graph when both
	// forms are present; runtime inputs win.
	if workflow != nil {
		mergeWidgetValues(g, workflow)
	}

	if isMediaPipeline(g) {
		return &GenInfo{Engine: Engine{ParserVersion: ParserVersion}},
			&Status{Kind: "media_pipeline", Reason: "no_sampler"}, nil
	}

	sinks := rankSinks(findSinks(g))
	if len(sinks) == 0 {
		// No sink at all: fall back to the global sampler so bare
		// sampler graphs still parse.
		if samplerID := selectGlobalSampler(g); samplerID != "" {
			return p.build(g, sinkInfo{}, samplerID, selectGlobal, sinks, workflow), nil, nil
		}
		if meta := workflowMetadata(workflow); meta != nil {
			return &GenInfo{Metadata: meta, Engine: Engine{ParserVersion: ParserVersion}}, nil, nil
		}
		return nil, nil, nil
	}

	primary := sinks[0]
	samplerID, mode := selectSampler(g, primary)
	if samplerID == "" {
		if meta := workflowMetadata(workflow); meta != nil {
			return &GenInfo{Metadata: meta, Engine: Engine{ParserVersion: ParserVersion}}, nil, nil
		}
		return nil, nil, nil
	}

	return p.build(g, primary, samplerID, mode, sinks, workflow), nil, nil
}

func (p *Parser) build(g Graph, sink sinkInfo, samplerID, mode string, sinks []sinkInfo, workflow map[string]any) *GenInfo {
	fields := extractSamplerFields(g, samplerID)
	if mode == selectAdvanced {
		fields = resolveAdvancedFields(g, samplerID, fields)
	}

	gi := &GenInfo{
		Steps:     fields.Steps,
		CFG:       fields.CFG,
		Seed:      fields.Seed,
		Denoise:   fields.Denoise,
		Sampler:   fields.SamplerName,
		Scheduler: fields.Scheduler,
		Engine: Engine{
			ParserVersion: ParserVersion,
			SinkClass:     sink.class,
			SelectionMode: mode,
		},
	}

	gi.Positive = collectPrompt(g, samplerID, positiveInputs, false)
	gi.Negative = collectPrompt(g, samplerID, negativeInputs, true)

	models := collectModelChain(g, samplerID)
	models.CLIP = traceCLIP(g, samplerID)
	if sink.id != "" {
		models.VAE = traceVAE(g, sink)
	}
	if models.Checkpoint != nil || len(models.LoRAs) > 0 || models.CLIP != nil || models.VAE != nil {
		gi.Models = &models
		gi.Checkpoint = models.Checkpoint
	}

	gi.Size = traceSize(g, samplerID)
	gi.InputFiles = collectInputFiles(g)
	if sink.id != "" {
		gi.WorkflowType = classifyWorkflowType(g, sink, samplerID)
	}

	if len(sinks) > 1 {
		pos, neg := collectAllPrompts(g, sinks, multiSinkLimit)
		if len(pos) > 1 {
			gi.AllPositivePrompts = pos
		}
		if len(neg) > 1 {
			gi.AllNegativePrompts = neg
		}
	}

	gi.Metadata = workflowMetadata(workflow)
	return gi
}

// workflowMetadata lifts title/author/version/description out of the
// workflow export's extra block. Nil when nothing is present.
func workflowMetadata(workflow map[string]any) map[string]any {
	if workflow == nil {
		return nil
	}
	extra, ok := workflow["extra"].(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]any{}
	for _, key := range []string{"title", "author", "version", "description", "name"} {
		if v, ok := extra[key]; ok {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mergeWidgetValues copies widgets_values from a LiteGraph workflow
// into the runtime graph nodes sharing the same id.
func mergeWidgetValues(g Graph, workflow map[string]any) {
	nodes, ok := workflow["nodes"].([]any)
	if !ok {
		return
	}
	for _, n := range nodes {
		nodeMap, ok := n.(map[string]any)
		if !ok {
			continue
		}
		idNum, ok := toInt64(nodeMap["id"])
		if !ok {
			continue
		}
		wv, ok := nodeMap["widgets_values"].([]any)
		if !ok {
			continue
		}
		if node, ok := g[strconv.FormatInt(idNum, 10)]; ok && len(node.WidgetValues) == 0 {
			node.WidgetValues = wv
		}
	}
}
