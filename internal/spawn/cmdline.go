package spawn

import (
	"fmt"

	shellquote "github.com/kballard/go-shellquote"
)

// NewCommandLine splits a shell-style command line, honouring quotes and
// escapes, and prepares the resulting process. No shell is involved.
func NewCommandLine(line string) (*Process, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}
	return NewProcess(ProcessOptions{Path: words[0], Args: words[1:]})
}
