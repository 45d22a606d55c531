package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleParams = `a castle on a hill, dramatic lighting
Negative prompt: blurry, low quality
Steps: 30, Sampler: DPM++ 2M Karras, CFG scale: 7.5, Seed: 1234567890, Size: 832x1216, Model: juggernautXL_v9`

func TestParseAuto1111_Full(t *testing.T) {
	p := ParseAuto1111(sampleParams)
	require.NotNil(t, p)

	assert.Equal(t, "a castle on a hill, dramatic lighting", p.Prompt)
	assert.Equal(t, "blurry, low quality", p.NegativePrompt)
	require.NotNil(t, p.Steps)
	assert.Equal(t, int64(30), *p.Steps)
	assert.Equal(t, "DPM++ 2M Karras", p.Sampler)
	require.NotNil(t, p.CFG)
	assert.InDelta(t, 7.5, *p.CFG, 1e-9)
	require.NotNil(t, p.Seed)
	assert.Equal(t, int64(1234567890), *p.Seed)
	require.NotNil(t, p.Width)
	assert.Equal(t, 832, *p.Width)
	assert.Equal(t, 1216, *p.Height)
	assert.Equal(t, "juggernautXL_v9", p.Model)
}

func TestParseAuto1111_NoNegative(t *testing.T) {
	p := ParseAuto1111("just a prompt\nSteps: 20, CFG scale: 4")
	require.NotNil(t, p)
	assert.Equal(t, "just a prompt", p.Prompt)
	assert.Empty(t, p.NegativePrompt)
	require.NotNil(t, p.Steps)
	assert.Equal(t, int64(20), *p.Steps)
}

func TestParseAuto1111_NotParameters(t *testing.T) {
	assert.Nil(t, ParseAuto1111("a plain caption with no markers"))
	assert.Nil(t, ParseAuto1111(""))
	assert.Nil(t, ParseAuto1111(`{"1":{"class_type":"KSampler"}}`))
}

func TestParseAuto1111_MultilinePrompt(t *testing.T) {
	text := "line one\nline two\nNegative prompt: bad hands\nSteps: 25, Seed: 7"
	p := ParseAuto1111(text)
	require.NotNil(t, p)
	assert.Equal(t, "line one\nline two", p.Prompt)
	assert.Equal(t, "bad hands", p.NegativePrompt)
}

func TestGenInfoFromParams(t *testing.T) {
	p := ParseAuto1111(sampleParams)
	require.NotNil(t, p)

	gi := GenInfoFromParams(p)
	require.NotNil(t, gi)
	require.NotNil(t, gi.Positive)
	assert.Equal(t, "a castle on a hill, dramatic lighting", gi.Positive.Value)
	assert.Equal(t, "parameters", gi.Positive.Source)
	require.NotNil(t, gi.Seed)
	assert.Positive(t, gi.Score())
}

func TestGenInfoFromParams_Empty(t *testing.T) {
	assert.Nil(t, GenInfoFromParams(&Auto1111Params{}))
}
