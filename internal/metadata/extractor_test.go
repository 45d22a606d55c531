package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/types"
)

func newTestRecord(kind types.Kind) *Record {
	return &Record{
		FileInfo: FileInfo{Size: 123, Mtime: 1700000000, Kind: kind, Ext: "png"},
		Quality:  types.QualityNone,
	}
}

func TestExtractImage_PromptGraph(t *testing.T) {
	rec := newTestRecord(types.KindImage)
	extractImage(rec, probe.TagMap{
		"PNG:Prompt":      promptGraphJSON,
		"PNG:Workflow":    workflowJSON,
		"File:ImageWidth": float64(832), "File:ImageHeight": float64(1216),
		"XMP-xmp:Rating": float64(5),
	})

	require.NotNil(t, rec.Prompt)
	require.NotNil(t, rec.Workflow)
	require.NotNil(t, rec.Width)
	assert.Equal(t, 832, *rec.Width)
	assert.Equal(t, 1216, *rec.Height)
	require.NotNil(t, rec.Rating)
	assert.Equal(t, 5, *rec.Rating)
	assert.Equal(t, types.QualityFull, rec.Quality)
	assert.True(t, rec.HasWorkflow())
	assert.True(t, rec.HasGenerationData())
}

func TestExtractImage_ParametersOnly(t *testing.T) {
	rec := newTestRecord(types.KindImage)
	extractImage(rec, probe.TagMap{"PNG:Parameters": sampleParams})

	assert.Nil(t, rec.Prompt)
	assert.Equal(t, sampleParams, rec.Parameters)
	assert.Equal(t, types.QualityPartial, rec.Quality)
	assert.True(t, rec.HasGenerationData())
}

func TestExtractImage_BareExif(t *testing.T) {
	rec := newTestRecord(types.KindImage)
	extractImage(rec, probe.TagMap{"File:FileType": "PNG"})

	assert.Equal(t, types.QualityDegraded, rec.Quality)
	assert.False(t, rec.HasGenerationData())
}

func TestExtractImage_WebpMakeModel(t *testing.T) {
	// WEBP writers stash the graphs in the EXIF Make/Model fields.
	rec := newTestRecord(types.KindImage)
	extractImage(rec, probe.TagMap{
		"IFD0:Make":  workflowJSON,
		"IFD0:Model": promptGraphJSON,
	})

	assert.NotNil(t, rec.Workflow)
	assert.NotNil(t, rec.Prompt)
}

func TestExtractVideo_ContainerTags(t *testing.T) {
	mi := &probe.MediaInfo{
		Format: probe.Format{
			Duration: "5.5",
			Tags:     map[string]string{"workflow": workflowJSON},
		},
		Streams: []probe.Stream{{
			CodecType: "video", CodecName: "h264",
			Width: 1280, Height: 720, Duration: "5.5",
		}},
	}
	rec := newTestRecord(types.KindVideo)
	extractVideo(rec, mi, probe.TagMap{})

	require.NotNil(t, rec.Workflow)
	require.NotNil(t, rec.Width)
	assert.Equal(t, 1280, *rec.Width)
	require.NotNil(t, rec.Duration)
	assert.InDelta(t, 5.5, *rec.Duration, 1e-9)
	assert.Equal(t, types.QualityFull, rec.Quality)
}

func TestExtractVideo_QuickTimeTags(t *testing.T) {
	rec := newTestRecord(types.KindVideo)
	extractVideo(rec, nil, probe.TagMap{"QuickTime:Prompt": promptGraphJSON})
	assert.NotNil(t, rec.Prompt)
}

func TestExtractAudio_Facts(t *testing.T) {
	mi := &probe.MediaInfo{
		Format: probe.Format{Duration: "30.2", BitRate: "192000"},
		Streams: []probe.Stream{{
			CodecType: "audio", CodecName: "flac",
			SampleRate: "44100", Channels: 2,
		}},
	}
	rec := newTestRecord(types.KindAudio)
	extractAudio(rec, mi, probe.TagMap{})

	require.NotNil(t, rec.Audio)
	assert.Equal(t, "flac", rec.Audio.Codec)
	assert.Equal(t, "44100", rec.Audio.SampleRate)
	assert.Equal(t, 2, rec.Audio.Channels)
	assert.Equal(t, "192000", rec.Audio.BitRate)
	assert.InDelta(t, 30.2, rec.Audio.Duration, 1e-9)
	assert.Equal(t, types.QualityPartial, rec.Quality)
}

func TestExtractLyrics_FromTag(t *testing.T) {
	got := extractLyrics(map[string]string{"Lyrics": "la la la"}, nil)
	assert.Equal(t, "la la la", got)
}

func TestExtractLyrics_FromGraph(t *testing.T) {
	prompt := map[string]any{
		"1": map[string]any{
			"class_type": "LyricsEncode",
			"inputs":     map[string]any{"lyrics": "verse one"},
		},
	}
	assert.Equal(t, "verse one", extractLyrics(nil, prompt))
}

func TestRecord_RawJSONRoundTrip(t *testing.T) {
	rec := newTestRecord(types.KindImage)
	extractImage(rec, probe.TagMap{"PNG:Parameters": sampleParams})

	raw := rec.RawJSON()
	back, err := DecodeRecord(raw)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, rec.Parameters, back.Parameters)
	assert.Equal(t, rec.Quality, back.Quality)
	assert.Equal(t, rec.FileInfo.Kind, back.FileInfo.Kind)
}

func TestRecord_WorkflowHashStable(t *testing.T) {
	a := newTestRecord(types.KindImage)
	b := newTestRecord(types.KindImage)
	extractImage(a, probe.TagMap{"PNG:Workflow": workflowJSON})
	extractImage(b, probe.TagMap{"PNG:Workflow": workflowJSON})

	require.NotEmpty(t, a.WorkflowHash())
	assert.Equal(t, a.WorkflowHash(), b.WorkflowHash())
	assert.Empty(t, newTestRecord(types.KindImage).WorkflowHash())
}
