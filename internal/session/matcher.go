package session

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// matcher accumulates one line of output at a time and reports when the
// trimmed, upper-cased line contains the upper-cased pattern. A line that
// ends without a match is dropped, so a pattern cannot span a newline.
type matcher struct {
	want string
	line []byte
	// window bounds the tail of the line that can hold a new match. Zero
	// means the whole line is searched.
	window int
}

func newMatcher(pattern string) *matcher {
	want := strings.ToUpper(pattern)
	m := &matcher{want: want}
	if !hasEdgeSpace(pattern) && want != "" {
		// ToUpper can grow a rune by a few bytes; leave room for that and
		// for a partially written rune at the end.
		m.window = 3*len(want) + utf8.UTFMax
	}
	return m
}

func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	last, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(first) || unicode.IsSpace(last)
}

// feed consumes data one byte at a time. It returns the number of bytes
// consumed and whether the last of them completed a match.
func (m *matcher) feed(data []byte) (int, bool) {
	for i, b := range data {
		m.line = append(m.line, b)
		if m.matches() {
			return i + 1, true
		}
		if b == '\n' {
			m.line = m.line[:0]
		}
	}
	return len(data), false
}

func (m *matcher) matches() bool {
	text := m.line
	if m.window > 0 && len(text) > m.window {
		text = text[len(text)-m.window:]
		for len(text) > 0 && !utf8.RuneStart(text[0]) {
			text = text[1:]
		}
		// Edges cannot hold the pattern's non-space ends, so the tail
		// needs no trimming.
		return strings.Contains(strings.ToUpper(string(text)), m.want)
	}
	return strings.Contains(strings.ToUpper(strings.TrimSpace(string(text))), m.want)
}
