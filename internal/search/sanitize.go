package search

import (
	"strings"
	"unicode"
)

// SanitizeQuery turns free text into a safe FTS5 MATCH expression.
//
// Balanced "double-quoted" spans become phrase queries. Every other word is
// quoted as a literal term, which neutralizes FTS5 operators (AND, OR, NOT,
// NEAR, column filters, ^, -, parentheses). A trailing * on a word is kept as
// a prefix query. Unmatched quote characters are dropped. Terms with no
// letter or digit are dropped. Terms are joined with spaces (implicit AND).
//
//	fix auth bug      → "fix" "auth" "bug"
//	"exact phrase" x* → "exact phrase" "x"*
//	"""               → (empty)
func SanitizeQuery(raw string) string {
	var terms []string
	var word strings.Builder

	flushWord := func() {
		if t := quoteTerm(word.String()); t != "" {
			terms = append(terms, t)
		}
		word.Reset()
	}

	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			end := indexRune(runes, i+1, '"')
			if end < 0 {
				// Unmatched quote: treat as a separator.
				flushWord()
				continue
			}
			flushWord()
			if p := quotePhrase(string(runes[i+1 : end])); p != "" {
				terms = append(terms, p)
			}
			i = end
		case unicode.IsSpace(r):
			flushWord()
		default:
			word.WriteRune(r)
		}
	}
	flushWord()

	return strings.Join(terms, " ")
}

// quoteTerm quotes a single bare word, keeping a trailing * as a prefix
// operator.
func quoteTerm(w string) string {
	prefix := strings.HasSuffix(w, "*")
	w = strings.TrimRight(w, "*")
	if !hasAlnum(w) {
		return ""
	}
	t := `"` + w + `"`
	if prefix {
		t += "*"
	}
	return t
}

// quotePhrase quotes the inside of a balanced quoted span.
func quotePhrase(p string) string {
	p = strings.Join(strings.Fields(p), " ")
	if !hasAlnum(p) {
		return ""
	}
	return `"` + p + `"`
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func indexRune(runes []rune, from int, target rune) int {
	for j := from; j < len(runes); j++ {
		if runes[j] == target {
			return j
		}
	}
	return -1
}
