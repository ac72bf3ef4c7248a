package ports

// DialogProvider abstracts interactive user dialogs for credential entry.
// Implementations may use TUI forms, native OS dialogs, or test fakes.
type DialogProvider interface {
	// AskPassword prompts the user for a password or passphrase.
	// The title describes what the credential unlocks (e.g. a host name).
	// The returned slice is owned by the caller and should be wiped after use.
	AskPassword(title string) ([]byte, error)

	// Confirm asks the user a yes/no question and returns the answer.
	Confirm(question string) (bool, error)
}
