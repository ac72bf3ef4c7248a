package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Detection describes a prompt found in the buffer.
type Detection struct {
	Kind Kind

	// Pattern names the rule that matched: a custom pattern's name or a
	// built-in signature.
	Pattern string

	// Line is the trailing line that triggered the match.
	Line string

	// Response is the suggested answer, without a line terminator.
	// Empty for password prompts; the credential comes from elsewhere.
	Response string
}

// Detector classifies terminal output. Custom patterns take precedence over
// the built-in signatures so operators can override classification for odd
// tools.
type Detector struct {
	mu     sync.RWMutex
	custom []Pattern
}

// NewDetector creates a detector with only the built-in signatures.
func NewDetector() *Detector {
	return &Detector{}
}

// AddPattern registers a custom pattern.
func (d *Detector) AddPattern(p Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.custom = append(d.custom, p)
}

// AddPatternFromConfig compiles and registers a pattern described in
// configuration.
func (d *Detector) AddPatternFromConfig(name, expr, kind, response string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("prompt pattern %q: %w", name, err)
	}

	var k Kind
	switch kind {
	case "password":
		k = KindPassword
	case "confirmation":
		k = KindConfirmation
	case "host_key":
		k = KindHostKey
	default:
		return fmt.Errorf("prompt pattern %q: unknown kind %q", name, kind)
	}

	d.AddPattern(Pattern{Name: name, Regex: re, Kind: k, Response: response})
	return nil
}

// Detect classifies the trailing region of buffer. The buffer must already
// be ANSI-stripped. Returns nil when no prompt is waiting.
//
// A waiting prompt is text the remote process printed without a trailing
// newline, so the built-in checks anchor on the buffer's last line. The host
// key question is checked before generic confirmations because its text also
// ends in a yes/no token.
func (d *Detector) Detect(buffer string) *Detection {
	line := trailingLine(buffer)
	if line == "" {
		return nil
	}
	lower := strings.ToLower(line)

	d.mu.RLock()
	custom := d.custom
	d.mu.RUnlock()

	for _, p := range custom {
		if p.Regex.MatchString(line) {
			return &Detection{Kind: p.Kind, Pattern: p.Name, Line: line, Response: p.Response}
		}
	}

	if strings.Contains(lower, hostKeySignature) {
		return &Detection{Kind: KindHostKey, Pattern: "ssh_host_key", Line: line, Response: "yes"}
	}

	for _, sig := range passwordSignatures {
		if strings.Contains(lower, sig) {
			return &Detection{Kind: KindPassword, Pattern: "password", Line: line}
		}
	}

	trimmed := strings.TrimRight(lower, " \t")
	for _, s := range confirmationSuffixes {
		if strings.HasSuffix(trimmed, s.token) {
			return &Detection{Kind: KindConfirmation, Pattern: "confirmation", Line: line, Response: s.response}
		}
	}
	// "(yes/no/[fingerprint])?" style: a question mark ending a line that
	// visibly offers yes/no.
	if strings.HasSuffix(trimmed, "?") && (strings.Contains(trimmed, "yes/no") || strings.Contains(trimmed, "y/n")) {
		return &Detection{Kind: KindConfirmation, Pattern: "confirmation", Line: line, Response: "yes"}
	}

	return nil
}

// trailingLine returns the last line of buffer with content. A prompt
// usually leaves the buffer without a final newline, but some tools emit
// "question\n" then wait, so a single trailing newline is tolerated.
func trailingLine(buffer string) string {
	s := strings.TrimRight(buffer, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
