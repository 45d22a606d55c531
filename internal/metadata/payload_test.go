package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const promptGraphJSON = `{"3":{"class_type":"KSampler","inputs":{"seed":5}},"4":{"class_type":"SaveImage","inputs":{}}}`
const workflowJSON = `{"nodes":[{"id":1,"type":"KSampler"}],"links":[]}`

func TestDecodePayload_PlainJSON(t *testing.T) {
	doc := decodePayload(promptGraphJSON)
	require.NotNil(t, doc)
	assert.Contains(t, doc, "3")
}

func TestDecodePayload_Base64(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte(promptGraphJSON))
	doc := decodePayload(enc)
	require.NotNil(t, doc)
	assert.Contains(t, doc, "3")
}

func TestDecodePayload_Base64Zlib(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(workflowJSON))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	doc := decodePayload(base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NotNil(t, doc)
	assert.Contains(t, doc, "nodes")
}

func TestDecodePayload_Garbage(t *testing.T) {
	assert.Nil(t, decodePayload("not json at all"))
	assert.Nil(t, decodePayload(""))
	assert.Nil(t, decodePayload("[1,2,3]"))
}

func TestShapeChecks(t *testing.T) {
	var wf, pg map[string]any
	require.NoError(t, json.Unmarshal([]byte(workflowJSON), &wf))
	require.NoError(t, json.Unmarshal([]byte(promptGraphJSON), &pg))

	assert.True(t, isWorkflowShape(wf))
	assert.False(t, isWorkflowShape(pg))
	assert.True(t, isPromptGraphShape(pg))
	assert.False(t, isPromptGraphShape(wf))
}

func TestScanTagValue_Wrapper(t *testing.T) {
	wrapper := `{"workflow":` + workflowJSON + `,"prompt":` + promptGraphJSON + `}`

	var f foundPayloads
	f.scanTagValue(wrapper)

	require.NotNil(t, f.Workflow)
	require.NotNil(t, f.Prompt)
	assert.True(t, f.complete())
}

func TestScanTagValue_FirstHitWins(t *testing.T) {
	var f foundPayloads
	f.scanTagValue(promptGraphJSON)
	first := f.Prompt
	f.scanTagValue(`{"9":{"class_type":"Other","inputs":{}}}`)
	assert.Equal(t, first, f.Prompt)
}
