// Package ansi strips terminal escape sequences from captured output.
//
// Marker scanning and prompt detection both operate on plain text, so the
// whole accumulated buffer is run through Strip before any matching. The
// pattern table below is the single place escape handling lives; nothing
// else in the repository inspects raw escape bytes.
package ansi

import "strings"

// Recognized sequence classes:
//
//	CSI   ESC [ params letter      — colors, cursor movement, modes
//	      (covers bracketed paste enable/disable ESC[?2004h / ESC[?2004l
//	      and the paste markers ESC[200~ / ESC[201~)
//	OSC   ESC ] ... BEL            — window title, hyperlinks
//	OSC   ESC ] ... ESC \          — same, ST-terminated
//	DCS   ESC P ... ESC \          — device control strings
//	G0/G1 ESC ( X, ESC ) X         — charset selection
//	Bare  ESC letter               — keypad modes and similar singles
const esc = '\x1b'

// Strip removes ANSI escape sequences and carriage returns from s,
// preserving newlines, tabs and all plain characters. Stripping a string
// with no escape sequences returns it unchanged, and Strip is idempotent.
func Strip(s string) string {
	if !strings.ContainsAny(s, "\x1b\r") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c == '\r' {
			i++
			continue
		}
		if c != esc {
			b.WriteByte(c)
			i++
			continue
		}
		i += skipEscape(s[i:])
	}
	return b.String()
}

// skipEscape returns the length of the escape sequence starting at s[0],
// which must be ESC. Truncated sequences (split across reads) consume the
// remainder of the string; the next Strip over the reassembled buffer sees
// the full sequence.
func skipEscape(s string) int {
	if len(s) < 2 {
		return len(s)
	}

	switch s[1] {
	case '[': // CSI: parameters then a final byte in 0x40..0x7e
		for i := 2; i < len(s); i++ {
			if s[i] >= 0x40 && s[i] <= 0x7e {
				return i + 1
			}
		}
		return len(s)
	case ']': // OSC: terminated by BEL or ESC \
		for i := 2; i < len(s); i++ {
			if s[i] == '\a' {
				return i + 1
			}
			if s[i] == esc && i+1 < len(s) && s[i+1] == '\\' {
				return i + 2
			}
		}
		return len(s)
	case 'P': // DCS: terminated by ESC \
		for i := 2; i < len(s); i++ {
			if s[i] == esc && i+1 < len(s) && s[i+1] == '\\' {
				return i + 2
			}
		}
		return len(s)
	case '(', ')': // charset select: one designator byte
		if len(s) >= 3 {
			return 3
		}
		return len(s)
	default: // bare two-byte sequence, e.g. ESC = or ESC >
		return 2
	}
}
