package state

import (
	"strings"

	"golang.org/x/text/cases"
)

// Normalize returns the dedup key for text: Unicode case folded, trimmed,
// with internal whitespace runs collapsed to one space.
func Normalize(text string) string {
	// Casers carry state and are not safe to share between goroutines.
	folded := cases.Fold().String(text)
	return strings.Join(strings.Fields(folded), " ")
}

// clean trims text and collapses internal whitespace while keeping case.
func clean(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
