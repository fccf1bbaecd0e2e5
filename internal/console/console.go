// Package console binds a session to the operator's terminal.
package console

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/acolita/goexpect/internal/session"
)

// Terminal is the operator's console.
type Terminal struct {
	In  *os.File
	Out *os.File
	Err *os.File
}

// Std returns the process's standard streams.
func Std() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// IsTerminal reports whether input is attached to a terminal.
func (t *Terminal) IsTerminal() bool {
	return term.IsTerminal(int(t.In.Fd()))
}

// MakeRaw puts the input terminal into raw mode so keystrokes reach the
// subordinate unprocessed. The returned function restores the previous
// state. When input is not a terminal both are no-ops.
func (t *Terminal) MakeRaw() (func() error, error) {
	if !t.IsTerminal() {
		return func() error { return nil }, nil
	}
	fd := int(t.In.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("set terminal raw mode: %w", err)
	}
	return func() error { return term.Restore(fd, oldState) }, nil
}

// Size returns the output terminal's dimensions.
func (t *Terminal) Size() (cols, rows int, err error) {
	return term.GetSize(int(t.Out.Fd()))
}

// Streams returns the console triple used by session.Interact.
func (t *Terminal) Streams() session.Console {
	return session.Console{In: t.In, Out: t.Out, Err: t.Err}
}
