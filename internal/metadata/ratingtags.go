package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/standardbeagle/mjrindex/internal/probe"
)

// Tag canonicalization limits.
const (
	maxTagLength = 100
	maxTagCount  = 50
)

// ratingKeys are checked in order for a 0-5 star rating.
var ratingKeys = []string{
	"XMP-xmp:Rating", "XMP:Rating", "Rating", "EXIF:Rating",
}

// ratingPercentKeys hold percent-style ratings mapped to stars.
var ratingPercentKeys = []string{
	"XMP-microsoft:RatingPercent", "RatingPercent", "Microsoft:SharedUserRating",
}

// tagKeys are checked for keyword/tag collections across the common
// namespace spellings.
var tagKeys = []string{
	"XMP-dc:Subject", "XMP:Subject", "Subject",
	"IPTC:Keywords", "Keywords",
	"Microsoft:Category", "XMP-microsoft:Category", "Category",
	"XPKeywords", "IFD0:XPKeywords",
}

// generationTimeKeys are checked in priority order for the original
// creation timestamp.
var generationTimeKeys = []string{
	"EXIF:DateTimeOriginal", "ExifIFD:DateTimeOriginal", "DateTimeOriginal",
	"EXIF:CreateDate", "ExifIFD:CreateDate", "CreateDate",
	"QuickTime:CreateDate", "QuickTime:CreationDate",
	"XMP-xmp:CreateDate", "XMP:CreateDate",
	"IFD0:ModifyDate", "File:FileModifyDate",
}

// percentToStars maps a 0-100 rating onto 0-5 stars with the thresholds
// 88/63/38/13 (the Windows shell convention).
func percentToStars(percent float64) int {
	switch {
	case percent >= 88:
		return 5
	case percent >= 63:
		return 4
	case percent >= 38:
		return 3
	case percent >= 13:
		return 2
	case percent > 0:
		return 1
	default:
		return 0
	}
}

// ExtractRating finds a 0-5 rating across the known tag spellings.
func ExtractRating(tags probe.TagMap) (int, bool) {
	for _, key := range ratingKeys {
		if v, ok := tags[key]; ok {
			if n, ok := anyToFloat(v); ok {
				r := int(n)
				if r < 0 {
					r = 0
				}
				if r > 5 {
					r = 5
				}
				return r, true
			}
		}
	}
	for _, key := range ratingPercentKeys {
		if v, ok := tags[key]; ok {
			if n, ok := anyToFloat(v); ok {
				return percentToStars(n), true
			}
		}
	}
	return 0, false
}

// ExtractTags collects keywords across the known tag spellings and
// canonicalizes them.
func ExtractTags(tags probe.TagMap) []string {
	var raw []string
	for _, key := range tagKeys {
		v, ok := tags[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			// XPKeywords and some writers join with semicolons.
			for _, part := range strings.FieldsFunc(t, func(r rune) bool { return r == ';' || r == ',' }) {
				raw = append(raw, part)
			}
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					raw = append(raw, s)
				}
			}
		}
	}
	return CanonicalizeTags(raw)
}

// CanonicalizeTags strips, drops empties and oversized entries, dedupes
// case-insensitively keeping first spelling, and caps the count.
func CanonicalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || len(t) > maxTagLength {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) >= maxTagCount {
			break
		}
	}
	return out
}

// TagsText renders the space-joined FTS mirror of a tag list.
func TagsText(tags []string) string {
	return strings.Join(tags, " ")
}

// ExtractGenerationTime returns the first populated date key.
func ExtractGenerationTime(tags probe.TagMap) string {
	for _, key := range generationTimeKeys {
		if v, ok := tags[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func anyToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
