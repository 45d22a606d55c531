package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mjrindex/internal/probe"
)

func TestPercentToStars(t *testing.T) {
	cases := []struct {
		percent float64
		stars   int
	}{
		{100, 5}, {88, 5}, {87.9, 4}, {63, 4}, {62, 3},
		{38, 3}, {37, 2}, {13, 2}, {12, 1}, {1, 1}, {0, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.stars, percentToStars(c.percent), "percent %v", c.percent)
	}
}

func TestExtractRating_Stars(t *testing.T) {
	r, ok := ExtractRating(probe.TagMap{"XMP-xmp:Rating": float64(4)})
	require.True(t, ok)
	assert.Equal(t, 4, r)
}

func TestExtractRating_Percent(t *testing.T) {
	r, ok := ExtractRating(probe.TagMap{"XMP-microsoft:RatingPercent": float64(88)})
	require.True(t, ok)
	assert.Equal(t, 5, r)
}

func TestExtractRating_Clamped(t *testing.T) {
	r, ok := ExtractRating(probe.TagMap{"XMP-xmp:Rating": float64(9)})
	require.True(t, ok)
	assert.Equal(t, 5, r)

	r, ok = ExtractRating(probe.TagMap{"XMP-xmp:Rating": float64(-2)})
	require.True(t, ok)
	assert.Equal(t, 0, r)
}

func TestExtractRating_Absent(t *testing.T) {
	_, ok := ExtractRating(probe.TagMap{"File:FileSize": float64(10)})
	assert.False(t, ok)
}

func TestExtractTags_SplitAndDedupe(t *testing.T) {
	tags := ExtractTags(probe.TagMap{"XMP-dc:Subject": "portrait; Landscape, portrait"})
	assert.Equal(t, []string{"portrait", "Landscape"}, tags)
}

func TestExtractTags_ListValue(t *testing.T) {
	tags := ExtractTags(probe.TagMap{"IPTC:Keywords": []any{"alpha", "beta"}})
	assert.Equal(t, []string{"alpha", "beta"}, tags)
}

func TestCanonicalizeTags_Limits(t *testing.T) {
	var in []string
	for i := 0; i < 60; i++ {
		in = append(in, string(rune('a'+i%26))+"tag"+string(rune('0'+i%10)))
	}
	out := CanonicalizeTags(in)
	assert.LessOrEqual(t, len(out), 50)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	out = CanonicalizeTags([]string{string(long), "kept"})
	assert.Equal(t, []string{"kept"}, out)
}

func TestCanonicalizeTags_CaseInsensitiveDedupe(t *testing.T) {
	out := CanonicalizeTags([]string{"Sunset", "sunset", "SUNSET", "dawn"})
	assert.Equal(t, []string{"Sunset", "dawn"}, out)
}
