package validation

import "strings"

const fence = "```"

// Repair strips the wrapping models commonly put around a JSON object:
// code fences with an optional language tag, and prose lines before the
// first line that opens an object or after the last line that closes one.
// It returns "" when no such span exists.
func Repair(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	first, last := -1, -1
	for i, line := range lines {
		t := stripFence(line)
		if first < 0 && strings.HasPrefix(t, "{") {
			first = i
		}
		if strings.HasSuffix(t, "}") {
			last = i
		}
	}
	if first < 0 || last < first {
		return ""
	}

	span := make([]string, 0, last-first+1)
	span = append(span, lines[first:last+1]...)
	span[0] = stripFence(span[0])
	span[len(span)-1] = stripFence(span[len(span)-1])
	return strings.TrimSpace(strings.Join(span, "\n"))
}

// stripFence trims a line and removes an opening fence (with its language
// tag) and a closing fence.
func stripFence(line string) string {
	t := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(t, fence); ok {
		i := 0
		for i < len(rest) && isTagByte(rest[i]) {
			i++
		}
		t = strings.TrimSpace(rest[i:])
	}
	if rest, ok := strings.CutSuffix(t, fence); ok {
		t = strings.TrimSpace(rest)
	}
	return t
}

func isTagByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}
