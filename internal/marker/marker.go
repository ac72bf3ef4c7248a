// Package marker implements the sentinel protocol that frames one command's
// output inside a shared PTY byte stream.
//
// A PTY carries shell echoes, prompt redraws and asynchronous noise in the
// same stream as command output, with no EOF at command completion. Each
// execution is therefore wrapped in a unique start/end marker pair: the shell
// echoes the start marker, runs the command, captures $? and prints it
// followed by the end marker. Extraction slices the payload back out of the
// accumulated stream.
package marker

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marinerapp/mariner/internal/ansi"
	"github.com/marinerapp/mariner/internal/ports"
)

const (
	beginSuffix = "_BEGIN__"
	endSuffix   = "_END__"

	// rcVar holds the wrapped command's exit status between the command
	// statement and the marker-emission statement.
	rcVar = "__MARINER_RC"

	// idBytes of randomness per pair. Collisions across a session's
	// lifetime would corrupt extraction, so every invocation gets a
	// fresh value.
	idBytes = 4
)

// Pair is one command invocation's start/end sentinel strings.
// Pairs are generated fresh per invocation and never reused: a stale marker
// left in a previous command's residual buffer must not match.
type Pair struct {
	Start string
	End   string
}

// NewPair generates a unique marker pair with the given prefix, e.g.
// "__MARINER_TERM_" yields "__MARINER_TERM_a1b2c3d4_BEGIN__".
func NewPair(prefix string, rnd ports.Random) Pair {
	b := make([]byte, idBytes)
	var id string
	if _, err := rnd.Read(b); err != nil {
		// Degraded uniqueness is still better than a fixed marker.
		id = fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	} else {
		id = hex.EncodeToString(b)
	}
	return Pair{
		Start: prefix + id + beginSuffix,
		End:   prefix + id + endSuffix,
	}
}

// PrimingScript is the one-time session setup sent before the first command:
// it disables local echo, clears prompt side effects and turns off bracketed
// paste mode so later extraction has less noise to filter. The individual
// lines are also part of the noise-filter table below.
const PrimingScript = "stty -echo 2>/dev/null\n" +
	"unset PROMPT_COMMAND\n" +
	"PS1=''\n" +
	"PS2=''\n" +
	"printf '\\033[?2004l'\n"

// primingLines are the exact setup lines a still-echoing shell may repeat
// back at us.
var primingLines = []string{
	"stty -echo 2>/dev/null",
	"unset PROMPT_COMMAND",
	"PS1=''",
	"PS2=''",
	`printf '\033[?2004l'`,
}

// startLine and endLine are the marker-emission statements for a pair.
// printf is used instead of echo so shell line-buffering cannot merge the
// marker with adjacent command output.
func startLine(p Pair) string {
	return fmt.Sprintf("printf '%%s\\n' '%s'", p.Start)
}

func endLine(p Pair) string {
	return fmt.Sprintf("printf '%%s\\n%%s\\n' \"$%s\" '%s'", rcVar, p.End)
}

// Wrap builds the shell text for one command invocation: emit the start
// marker on its own line, run the command unmodified, capture $?, then print
// the exit code and the end marker each on their own line.
func Wrap(command string, p Pair) string {
	return strings.Join([]string{
		startLine(p),
		command,
		rcVar + "=$?",
		endLine(p),
	}, "\n") + "\n"
}

// Extraction is the parsed view of an accumulated buffer for one command.
type Extraction struct {
	// Output is the cleaned payload between the markers: ANSI-stripped,
	// noise-filtered, exit-code line removed.
	Output string

	// ExitCode is the parsed exit status. 0 when a well-formed
	// marker-bounded payload carries no parseable code; -1 when the end
	// marker has not arrived.
	ExitCode int

	// Complete reports whether the end marker was found on its own line.
	Complete bool
}

// Extract parses the accumulated raw stream for a command wrapped with p.
//
// The whole blob is ANSI-stripped first since markers can be interleaved
// with escape sequences from prompt redraws. Extraction anchors on the LAST
// occurrence of the start marker: the shell's echo of the wrapped command
// text contains the marker literal too, and only the most recent genuine
// emission is trustworthy. The end marker must match line-exact, so the
// echoed printf statement (where the marker sits inside quotes) can never
// terminate extraction early. When the end marker is absent the remaining
// text is treated as an in-progress payload, not an error.
func Extract(raw string, p Pair, originalCommand string) Extraction {
	clean := ansi.Strip(raw)

	start := strings.LastIndex(clean, p.Start)
	if start == -1 {
		return Extraction{ExitCode: -1}
	}
	rest := clean[start+len(p.Start):]

	payload, complete := splitAtMarkerLine(rest, p.End)

	lines := strings.Split(payload, "\n")
	exitCode := -1
	if complete {
		exitCode = 0
		if i := lastNonEmpty(lines); i >= 0 {
			if code, err := strconv.Atoi(strings.TrimSpace(lines[i])); err == nil {
				exitCode = code
				lines = lines[:i]
			}
		}
	}

	lines = filterNoise(lines, p, originalCommand)

	return Extraction{
		Output:   strings.TrimSpace(strings.Join(lines, "\n")),
		ExitCode: exitCode,
		Complete: complete,
	}
}

// splitAtMarkerLine returns the text preceding the first line that consists
// exactly of the marker, and whether such a line was found.
func splitAtMarkerLine(text, mark string) (string, bool) {
	offset := 0
	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var line string
		if lineEnd == -1 {
			line = text[offset:]
			lineEnd = len(text) - offset
		} else {
			line = text[offset : offset+lineEnd]
		}
		if strings.TrimSpace(line) == mark {
			return text[:offset], true
		}
		offset += lineEnd + 1
	}
	return text, false
}

// lastNonEmpty returns the index of the last line with content, or -1.
func lastNonEmpty(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}

// filterNoise drops lines a still-echoing shell repeats back: the echo of
// the original command, the marker-emission printf statements, the exit-code
// capture, and the session priming lines. Matching is exact-line against the
// known injected text, never substring, so a command whose legitimate output
// contains words like "printf" is untouched and the filter is idempotent.
func filterNoise(lines []string, p Pair, originalCommand string) []string {
	noise := map[string]struct{}{
		startLine(p):    {},
		endLine(p):      {},
		rcVar + "=$?":   {},
		p.Start:         {}, // a re-echoed bare marker line carries no payload
		strings.TrimSpace(originalCommand): {},
	}
	for _, l := range primingLines {
		noise[l] = struct{}{}
	}

	kept := lines[:0:0]
	for _, line := range lines {
		if _, drop := noise[strings.TrimSpace(line)]; drop {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}
