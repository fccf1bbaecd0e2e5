// Package realdialog asks the operator for secrets, using a charmbracelet/huh
// form on a terminal and a plain line prompt otherwise.
package realdialog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/acolita/goexpect/internal/ports"
)

// ErrAborted is returned when the operator cancels the prompt.
var ErrAborted = errors.New("prompt aborted")

// Provider implements ports.Dialog.
type Provider struct {
	in  io.Reader
	out io.Writer
	tty bool
}

// New returns a provider bound to the process's stdin and stderr.
func New() *Provider {
	return &Provider{
		in:  os.Stdin,
		out: os.Stderr,
		tty: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// NewPlain returns a provider that always uses the line prompt on in/out.
func NewPlain(in io.Reader, out io.Writer) *Provider {
	return &Provider{in: in, out: out}
}

// Password asks for a secret without echoing it.
func (p *Provider) Password(title, description string) (string, error) {
	if !p.tty {
		return p.linePrompt(title)
	}

	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description(description).
				EchoMode(huh.EchoModePassword).
				Value(&value),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrAborted
		}
		return "", fmt.Errorf("password form: %w", err)
	}
	return value, nil
}

// linePrompt reads one line from the input. Used when no terminal is attached.
func (p *Provider) linePrompt(title string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", title)
	scanner := bufio.NewScanner(p.in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read answer: %w", err)
		}
		return "", ErrAborted
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}

var _ ports.Dialog = (*Provider)(nil)
