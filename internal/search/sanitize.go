package search

import (
	"strings"
	"unicode"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// isBrowseAll reports whether the query is "*" or nothing but
// wildcards and spaces. Such queries mean "everything" and are served
// by the browse path, never by FTS.
func isBrowseAll(raw string) bool {
	q := strings.TrimSpace(raw)
	if q == "" {
		return false
	}
	for _, r := range q {
		if r != '*' && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// sanitizeQuery validates a raw user query and rewrites it into a safe
// FTS5 MATCH expression. Every token is double-quoted so FTS operators
// in user input stay literal; a trailing * keeps prefix semantics.
func sanitizeQuery(raw string, limits config.Search) (string, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return "", mjrerr.New(mjrerr.CodeEmptyQuery, "query is empty")
	}
	if len(q) > limits.MaxQueryLen {
		return "", mjrerr.New(mjrerr.CodeQueryTooLong,
			"query is %d bytes, limit %d", len(q), limits.MaxQueryLen)
	}

	tokens := splitTokens(q)
	if len(tokens) == 0 {
		return "", mjrerr.New(mjrerr.CodeQueryTooGeneral, "query has no searchable tokens")
	}
	if len(tokens) > limits.MaxTokens {
		return "", mjrerr.New(mjrerr.CodeQueryTooComplex,
			"query has %d tokens, limit %d", len(tokens), limits.MaxTokens)
	}

	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		prefix := strings.HasSuffix(tok, "*")
		tok = strings.Trim(tok, "*")
		if tok == "" {
			// A bare wildcard matches everything; reject rather than
			// return the whole index.
			return "", mjrerr.New(mjrerr.CodeQueryTooGeneral, "wildcard-only token")
		}
		if len(tok) > limits.MaxTokenLen {
			return "", mjrerr.New(mjrerr.CodeTokenTooLong,
				"token is %d bytes, limit %d", len(tok), limits.MaxTokenLen)
		}
		quoted := `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
		if prefix {
			quoted += "*"
		}
		parts = append(parts, quoted)
	}
	return strings.Join(parts, " "), nil
}

// splitTokens breaks a query on whitespace and punctuation that FTS
// would treat as separators, keeping * attached for prefix queries.
func splitTokens(q string) []string {
	return strings.FieldsFunc(q, func(r rune) bool {
		switch r {
		case '*', '_', '-', '.':
			return false
		}
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}
