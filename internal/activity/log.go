package activity

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultLogLimit caps the chat log passed to the model, in characters.
const DefaultLogLimit = 2000

const citationTimeLayout = "2006-01-02 15:04"

// CitationLine renders entry n (1-based) as "[n] 2006-01-02 15:04 (type) content"
// with the content flattened to one line.
func CitationLine(n int, e Entry) string {
	content := strings.Join(strings.Fields(e.Content), " ")
	return fmt.Sprintf("[%d] %s (%s) %s", n, e.Timestamp.Format(citationTimeLayout), e.Type, content)
}

// FormatLog renders entries as numbered citation lines, keeping the newest
// entries whose lines fit within limit characters. Numbers are positions in
// the full log so citations stay stable as the log grows. When even the
// newest line is too long it is truncated to fit.
func FormatLog(entries []Entry, limit int) string {
	if limit <= 0 || len(entries) == 0 {
		return ""
	}
	var kept []string
	used := 0
	for i := len(entries) - 1; i >= 0; i-- {
		line := CitationLine(i+1, entries[i])
		cost := len([]rune(line))
		if len(kept) > 0 {
			cost++ // newline
		}
		if used+cost > limit {
			if len(kept) == 0 {
				kept = append(kept, clip(line, limit))
			}
			break
		}
		kept = append(kept, line)
		used += cost
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

// clip shortens s to at most limit runes, ending in "..." and cutting at
// the last space when there is one.
func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return strings.Repeat(".", limit)
	}
	head := runes[:limit-3]
	if i := lastSpace(head); i > 0 {
		head = head[:i]
	}
	return string(head) + "..."
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
