package geninfo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// txt2imgGraph is a minimal but complete checkpoint pipeline:
// loader -> clip encodes -> sampler -> decode -> save.
const txt2imgGraph = `{
	"3": {"class_type": "KSampler", "inputs": {
		"seed": 42, "steps": 30, "cfg": 7.5,
		"sampler_name": "euler", "scheduler": "normal", "denoise": 1.0,
		"model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0],
		"latent_image": ["5", 0]}},
	"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "dreamshaper_v8.safetensors"}},
	"5": {"class_type": "EmptyLatentImage", "inputs": {"width": 1024, "height": 768, "batch_size": 1}},
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a castle at sunset", "clip": ["4", 1]}},
	"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry, low quality", "clip": ["4", 1]}},
	"8": {"class_type": "VAEDecode", "inputs": {"samples": ["3", 0], "vae": ["4", 2]}},
	"9": {"class_type": "SaveImage", "inputs": {"images": ["8", 0], "filename_prefix": "out"}}
}`

func mustGraph(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestParse_Txt2Img(t *testing.T) {
	p := NewParser(nil)
	gi, status, err := p.Parse(mustGraph(t, txt2imgGraph), nil)
	require.NoError(t, err)
	assert.Nil(t, status)
	require.NotNil(t, gi)

	require.NotNil(t, gi.Positive)
	assert.Equal(t, "a castle at sunset", gi.Positive.Value)
	require.NotNil(t, gi.Negative)
	assert.Equal(t, "blurry, low quality", gi.Negative.Value)

	require.NotNil(t, gi.Checkpoint)
	assert.Equal(t, "dreamshaper_v8", gi.Checkpoint.Name)

	require.NotNil(t, gi.Sampler)
	assert.Equal(t, "euler", gi.Sampler.Name)
	require.NotNil(t, gi.Steps)
	assert.EqualValues(t, 30, gi.Steps.Value)
	require.NotNil(t, gi.Seed)

	require.NotNil(t, gi.Size)
	assert.Equal(t, 1024, gi.Size.Width)
	assert.Equal(t, 768, gi.Size.Height)

	assert.Equal(t, "T2I", gi.WorkflowType)
	assert.Equal(t, ParserVersion, gi.Engine.ParserVersion)
	assert.Positive(t, gi.Score())
}

func TestParse_ZeroedNegativeIsDropped(t *testing.T) {
	graph := mustGraph(t, txt2imgGraph)
	// Route the negative conditioning through a ConditioningZeroOut.
	graph["10"] = map[string]any{
		"class_type": "ConditioningZeroOut",
		"inputs":     map[string]any{"conditioning": []any{"7", float64(0)}},
	}
	sampler := graph["3"].(map[string]any)
	sampler["inputs"].(map[string]any)["negative"] = []any{"10", float64(0)}

	p := NewParser(nil)
	gi, _, err := p.Parse(graph, nil)
	require.NoError(t, err)
	require.NotNil(t, gi)
	assert.Nil(t, gi.Negative)
	require.NotNil(t, gi.Positive)
}

func TestParse_MediaPipeline(t *testing.T) {
	graph := mustGraph(t, `{
		"1": {"class_type": "LoadImage", "inputs": {"image": "in.png"}},
		"2": {"class_type": "ImageScale", "inputs": {"image": ["1", 0], "width": 512, "height": 512}},
		"3": {"class_type": "SaveImage", "inputs": {"images": ["2", 0]}}
	}`)

	p := NewParser(nil)
	gi, status, err := p.Parse(graph, nil)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "media_pipeline", status.Kind)
	require.NotNil(t, gi)
	assert.Equal(t, 0, gi.Score())
}

func TestParse_EmptyAndGarbage(t *testing.T) {
	p := NewParser(nil)

	gi, status, err := p.Parse(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, gi)
	assert.Nil(t, status)

	gi, _, err = p.Parse(map[string]any{"not": "a graph"}, nil)
	require.NoError(t, err)
	assert.Nil(t, gi)
}

func TestParse_Img2ImgClassification(t *testing.T) {
	graph := mustGraph(t, txt2imgGraph)
	// Replace the empty latent with an encoded loaded image.
	delete(graph, "5")
	graph["11"] = map[string]any{
		"class_type": "LoadImage",
		"inputs":     map[string]any{"image": "source.png"},
	}
	graph["12"] = map[string]any{
		"class_type": "VAEEncode",
		"inputs":     map[string]any{"pixels": []any{"11", float64(0)}, "vae": []any{"4", float64(2)}},
	}
	sampler := graph["3"].(map[string]any)
	sampler["inputs"].(map[string]any)["latent_image"] = []any{"12", float64(0)}

	p := NewParser(nil)
	gi, _, err := p.Parse(graph, nil)
	require.NoError(t, err)
	require.NotNil(t, gi)
	assert.Equal(t, "I2I", gi.WorkflowType)
	require.NotEmpty(t, gi.InputFiles)
	assert.Equal(t, "source.png", gi.InputFiles[0].Filename)
}

func TestNormalizeGraph_LiteGraphForm(t *testing.T) {
	raw := mustGraph(t, `{
		"nodes": [
			{"id": 1, "type": "CheckpointLoaderSimple", "widgets_values": ["sdxl_base.safetensors"]},
			{"id": 2, "type": "SaveImage", "inputs": [{"name": "images", "link": 5}]}
		],
		"links": [[5, 1, 0, 2, 0, "IMAGE"]]
	}`)

	g, err := NormalizeGraph(raw)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.Contains(t, g, "1")
	require.Contains(t, g, "2")

	src, _, ok := LinkRef(g["2"].Inputs["images"])
	require.True(t, ok)
	assert.Equal(t, "1", src)
}

func TestScore_Ordering(t *testing.T) {
	var none *GenInfo
	assert.Equal(t, 0, none.Score())

	partial := &GenInfo{Positive: &Field{Value: "x"}}
	full := &GenInfo{
		Positive:   &Field{Value: "x"},
		Negative:   &Field{Value: "y"},
		Checkpoint: &NameField{Name: "m"},
		Sampler:    &NameField{Name: "euler"},
	}
	assert.Greater(t, full.Score(), partial.Score())
}

func TestStripModelExt(t *testing.T) {
	assert.Equal(t, "model_v1", StripModelExt("model_v1.safetensors"))
	assert.Equal(t, "model_v1", StripModelExt("model_v1.ckpt"))
	assert.Equal(t, "plain-name", StripModelExt("plain-name"))
}
