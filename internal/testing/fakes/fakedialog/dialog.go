// Package fakedialog provides a canned DialogProvider for tests.
package fakedialog

import (
	"errors"
	"sync"

	"github.com/marinerapp/mariner/internal/ports"
)

// Dialog answers every prompt with preset values and records what was asked.
type Dialog struct {
	mu        sync.Mutex
	password  []byte
	confirm   bool
	err       error
	questions []string
}

// New creates a dialog answering with the given password and confirmation.
func New(password []byte, confirm bool) *Dialog {
	cp := append([]byte(nil), password...)
	return &Dialog{password: cp, confirm: confirm}
}

// NewFailing creates a dialog whose prompts all fail, as if the user
// cancelled.
func NewFailing() *Dialog {
	return &Dialog{err: errors.New("dialog cancelled")}
}

// AskPassword returns the preset password.
func (d *Dialog) AskPassword(title string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.questions = append(d.questions, title)
	if d.err != nil {
		return nil, d.err
	}
	out := make([]byte, len(d.password))
	copy(out, d.password)
	return out, nil
}

// Confirm returns the preset answer.
func (d *Dialog) Confirm(question string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.questions = append(d.questions, question)
	if d.err != nil {
		return false, d.err
	}
	return d.confirm, nil
}

// Questions returns every prompt title asked so far.
func (d *Dialog) Questions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.questions...)
}

var _ ports.DialogProvider = (*Dialog)(nil)
