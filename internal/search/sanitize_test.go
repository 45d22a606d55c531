package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

func testLimits() config.Search {
	return config.DefaultConfig().Search
}

func TestSanitizeQuery_QuotesTokens(t *testing.T) {
	q, err := sanitizeQuery("castle dramatic", testLimits())
	require.NoError(t, err)
	assert.Equal(t, `"castle" "dramatic"`, q)
}

func TestSanitizeQuery_PrefixWildcard(t *testing.T) {
	q, err := sanitizeQuery("cast*", testLimits())
	require.NoError(t, err)
	assert.Equal(t, `"cast"*`, q)
}

func TestSanitizeQuery_NeutralizesOperators(t *testing.T) {
	q, err := sanitizeQuery(`castle OR "drop" NEAR(x)`, testLimits())
	require.NoError(t, err)
	// Operators end up quoted as plain tokens.
	assert.NotContains(t, q, `OR `)
	assert.Contains(t, q, `"castle"`)
}

func TestSanitizeQuery_Empty(t *testing.T) {
	_, err := sanitizeQuery("   ", testLimits())
	assert.True(t, mjrerr.Is(err, mjrerr.CodeEmptyQuery))
}

func TestSanitizeQuery_TooLong(t *testing.T) {
	_, err := sanitizeQuery(strings.Repeat("a", 600), testLimits())
	assert.True(t, mjrerr.Is(err, mjrerr.CodeQueryTooLong))
}

func TestSanitizeQuery_TooManyTokens(t *testing.T) {
	_, err := sanitizeQuery(strings.TrimSpace(strings.Repeat("tok ", 20)), testLimits())
	assert.True(t, mjrerr.Is(err, mjrerr.CodeQueryTooComplex))
}

func TestSanitizeQuery_TokenTooLong(t *testing.T) {
	_, err := sanitizeQuery(strings.Repeat("x", 70), testLimits())
	assert.True(t, mjrerr.Is(err, mjrerr.CodeTokenTooLong))
}

func TestSanitizeQuery_WildcardOnly(t *testing.T) {
	_, err := sanitizeQuery("*", testLimits())
	assert.True(t, mjrerr.Is(err, mjrerr.CodeQueryTooGeneral))

	_, err = sanitizeQuery("** *", testLimits())
	assert.True(t, mjrerr.Is(err, mjrerr.CodeQueryTooGeneral))
}

func TestSplitTokens_KeepsFilenameChars(t *testing.T) {
	toks := splitTokens("my-file_0001.png")
	assert.Equal(t, []string{"my-file_0001.png"}, toks)
}

func TestIsBrowseAll(t *testing.T) {
	assert.True(t, isBrowseAll("*"))
	assert.True(t, isBrowseAll("  ** * "))
	assert.False(t, isBrowseAll(""))
	assert.False(t, isBrowseAll("   "))
	assert.False(t, isBrowseAll("castle*"))
}
