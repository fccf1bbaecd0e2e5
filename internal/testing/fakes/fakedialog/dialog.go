// Package fakedialog provides a test fake for ports.Dialog.
package fakedialog

import "github.com/acolita/goexpect/internal/ports"

// Provider is a controllable fake Dialog for testing.
type Provider struct {
	// Answer is returned by Password.
	Answer string
	// Err is the error returned by Password.
	Err error
	// Calls counts Password invocations.
	Calls int
	// LastTitle captures the title of the most recent prompt.
	LastTitle string
}

// New returns a fake dialog that answers with the given secret.
func New(answer string) *Provider {
	return &Provider{Answer: answer}
}

// Password returns the pre-configured Answer and Err.
func (p *Provider) Password(title, description string) (string, error) {
	p.Calls++
	p.LastTitle = title
	if p.Err != nil {
		return "", p.Err
	}
	return p.Answer, nil
}

var _ ports.Dialog = (*Provider)(nil)
