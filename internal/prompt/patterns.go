// Package prompt detects interactive prompts in accumulated terminal output.
//
// A command that stops to ask a question produces no end marker, so without
// detection it would sit until its timeout. The detector classifies the
// trailing region of the buffer into the prompt kinds the executor knows how
// to react to.
package prompt

import "regexp"

// Kind classifies a detected prompt.
type Kind string

const (
	KindNone         Kind = "none"
	KindPassword     Kind = "password"
	KindConfirmation Kind = "confirmation"
	KindHostKey      Kind = "host_key"
)

// Pattern is a custom detection rule, typically loaded from configuration.
type Pattern struct {
	Name     string
	Regex    *regexp.Regexp
	Kind     Kind
	Response string
}

// passwordSignatures are matched as substrings of the lowercased prompt
// line. Prompts wait without a trailing newline, so the signature must sit
// on the buffer's unterminated last line; "password:" inside scrolled-by
// command output never matches.
var passwordSignatures = []string{
	"[sudo] password",
	"password for",
	"password:",
	"passphrase",
}

// confirmationSuffixes are the tokens a yes/no question ends with,
// matched against the lowercased trailing line.
var confirmationSuffixes = []struct {
	token    string
	response string
}{
	{"[y/n]", "y"},
	{"[y/n]:", "y"},
	{"[y/n]?", "y"},
	{"(y/n)", "y"},
	{"(y/n):", "y"},
	{"[yes/no]", "yes"},
	{"[yes/no]:", "yes"},
	{"(yes/no)", "yes"},
	{"(yes/no):", "yes"},
}

// hostKeySignature is the first-connection question from OpenSSH. It is a
// confirmation too, but callers treat it separately: answering "yes" updates
// known_hosts, which plain confirmations never do.
const hostKeySignature = "are you sure you want to continue connecting"
