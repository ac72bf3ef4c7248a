// Package realdialog provides interactive terminal dialogs using huh forms.
package realdialog

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/marinerapp/mariner/internal/ports"
)

// Dialog implements ports.DialogProvider with TUI forms on the controlling
// terminal. It is used by the CLIs to collect credentials before handing
// them to the engine; the engine itself never blocks on user interaction.
type Dialog struct{}

// New returns a new terminal-backed Dialog.
func New() *Dialog {
	return &Dialog{}
}

// AskPassword prompts for a password with masked input.
func (d *Dialog) AskPassword(title string) ([]byte, error) {
	var value string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				EchoMode(huh.EchoModePassword).
				Value(&value),
		),
	)

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("password form: %w", err)
	}

	return []byte(value), nil
}

// Confirm asks a yes/no question.
func (d *Dialog) Confirm(question string) (bool, error) {
	var answer bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&answer),
		),
	)

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirm form: %w", err)
	}

	return answer, nil
}

// Ensure Dialog implements ports.DialogProvider.
var _ ports.DialogProvider = (*Dialog)(nil)
