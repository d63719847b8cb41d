package search

import (
	"strings"
	"unicode"
)

// NormalizeInput applies the input-box rule to freshly typed text. Text that
// begins with "@" is kept as typed so the user can type a handle; anything
// else loses leading whitespace and every leading "@".
func NormalizeInput(text string) string {
	if strings.HasPrefix(text, "@") {
		return text
	}
	return strings.TrimLeft(strings.TrimLeftFunc(text, unicode.IsSpace), "@")
}

// NormalizeTerm turns query text into the term sent to the directory and
// recorded in history: trimmed, with a single leading "@" removed.
func NormalizeTerm(query string) string {
	term := strings.TrimSpace(query)
	term = strings.TrimPrefix(term, "@")
	return strings.TrimSpace(term)
}
