package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/standardbeagle/mjrindex/internal/types"
)

func TestParseBackend(t *testing.T) {
	assert.Equal(t, BackendExifTool, ParseBackend("exiftool"))
	assert.Equal(t, BackendFFprobe, ParseBackend("ffprobe"))
	assert.Equal(t, BackendBoth, ParseBackend("both"))
	assert.Equal(t, BackendAuto, ParseBackend("auto"))
	assert.Equal(t, BackendAuto, ParseBackend("whatever"))
}

func TestPlanFor_ToolsUnavailable(t *testing.T) {
	// Nonexistent binaries: every plan degrades to nothing instead of
	// failing extraction outright.
	et := NewExifTool("exiftool-not-installed-for-tests", time.Second, nil)
	ff := NewFFprobe("ffprobe-not-installed-for-tests", time.Second, nil)
	r := NewRouter(BackendAuto, et, ff)

	for _, kind := range []types.Kind{types.KindImage, types.KindVideo, types.KindAudio} {
		p := r.PlanFor(kind)
		assert.False(t, p.UseExifTool, string(kind))
		assert.False(t, p.UseFFprobe, string(kind))
	}
}

func TestPlanFor_NilAdapters(t *testing.T) {
	r := NewRouter(BackendBoth, nil, nil)
	p := r.PlanFor(types.KindVideo)
	assert.False(t, p.UseExifTool)
	assert.False(t, p.UseFFprobe)
}

func TestMediaInfo_Streams(t *testing.T) {
	mi := &MediaInfo{
		Format: Format{Duration: "12.5"},
		Streams: []Stream{
			{CodecType: "audio", CodecName: "aac", Channels: 2},
			{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080},
		},
	}

	v := mi.VideoStream()
	if assert.NotNil(t, v) {
		assert.Equal(t, 1920, v.Width)
	}
	a := mi.AudioStream()
	if assert.NotNil(t, a) {
		assert.Equal(t, "aac", a.CodecName)
	}

	d, ok := mi.DurationSeconds()
	assert.True(t, ok)
	assert.Equal(t, 12.5, d)
}

func TestMediaInfo_DurationFromStreams(t *testing.T) {
	mi := &MediaInfo{
		Streams: []Stream{
			{CodecType: "video", Duration: "3.0"},
			{CodecType: "audio", Duration: "4.5"},
		},
	}
	d, ok := mi.DurationSeconds()
	assert.True(t, ok)
	assert.Equal(t, 4.5, d)

	var empty MediaInfo
	_, ok = empty.DurationSeconds()
	assert.False(t, ok)
}
