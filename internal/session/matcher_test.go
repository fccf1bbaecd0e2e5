package session

import "testing"

func TestMatcher_Feed(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		chunks   []string
		want     bool
		consumed int // bytes consumed from the last chunk
	}{
		{"exact", "flaska", []string{"flaska"}, true, 6},
		{"case insensitive", "GrIs", []string{"en gris"}, true, 7},
		{"split across chunks", "flaska", []string{"fla", "ska rest"}, true, 3},
		{"stops at match", "ok", []string{"ok then more"}, true, 2},
		{"no match", "klubba", []string{"flaska", "gris"}, false, 4},
		{"line break drops line", "flaska", []string{"fla\n", "ska"}, false, 3},
		{"match on later line", "gris", []string{"flaska\n", "gris"}, true, 4},
		{"leading space pattern", " gris", []string{"en gris"}, true, 7},
		{"trimmed line", "gris ", []string{"gris   "}, false, 7},
		{"long line tail", "needle", []string{string(make([]byte, 500)) + "xx needle"}, true, 509},
		{"unicode upper", "ÅÄÖ", []string{"åäö"}, true, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMatcher(tt.pattern)
			var n int
			var ok bool
			for _, c := range tt.chunks {
				n, ok = m.feed([]byte(c))
				if ok {
					break
				}
			}
			if ok != tt.want {
				t.Fatalf("matched = %v, want %v", ok, tt.want)
			}
			if n != tt.consumed {
				t.Errorf("consumed = %d, want %d", n, tt.consumed)
			}
		})
	}
}

func TestMatcher_EmptyPatternMatchesFirstByte(t *testing.T) {
	m := newMatcher("")
	n, ok := m.feed([]byte("abc"))
	if !ok || n != 1 {
		t.Errorf("feed = (%d, %v), want (1, true)", n, ok)
	}
	if n, ok := newMatcher("").feed(nil); ok || n != 0 {
		t.Errorf("feed(nil) = (%d, %v), want (0, false)", n, ok)
	}
}
