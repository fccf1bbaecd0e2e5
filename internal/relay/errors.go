package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Fault is an I/O failure that ended a running relay.
type Fault struct {
	Relay string
	Op    string
	Err   error
}

func (e *Fault) Error() string {
	return fmt.Sprintf("relay %s: %s: %v", e.Relay, e.Op, e.Err)
}

func (e *Fault) Unwrap() error { return e.Err }

// IsHarmless reports errors that mean the other side went away rather than
// a genuine transport failure.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}
