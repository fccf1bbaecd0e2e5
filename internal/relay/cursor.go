package relay

import (
	"io"
	"sync"
)

// Cursor is an independent read position in a relay's log. Bytes before the
// position are consumed; bytes after it are pending.
type Cursor struct {
	r *Relay

	mu  sync.Mutex
	off int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewCursor returns a cursor at the start of the log.
func (r *Relay) NewCursor() *Cursor { return r.CursorAt(0) }

// CursorAt returns a cursor positioned at off. Offsets past the end clamp to
// the current end.
func (r *Relay) CursorAt(off int) *Cursor {
	if off < 0 {
		off = 0
	}
	if n := r.Len(); off > n {
		off = n
	}
	return &Cursor{r: r, off: off, closed: make(chan struct{})}
}

// Offset returns the number of bytes consumed through this cursor.
func (c *Cursor) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.off
}

// Pending returns the unconsumed bytes, a channel closed on the next change
// to the log, and whether the relay has finished. The slice must not be
// modified.
func (c *Cursor) Pending() ([]byte, <-chan struct{}, bool) {
	return c.r.snapshot(c.Offset())
}

// Advance consumes n pending bytes.
func (c *Cursor) Advance(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.off += n
	c.mu.Unlock()
}

// Read implements io.Reader. It blocks until bytes are pending, returning
// io.EOF once the relay has finished and everything is consumed, or after
// Close.
func (c *Cursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		select {
		case <-c.closed:
			return 0, io.EOF
		default:
		}

		data, changed, ended := c.Pending()
		if len(data) > 0 {
			n := copy(p, data)
			c.Advance(n)
			return n, nil
		}
		if ended {
			return 0, io.EOF
		}

		select {
		case <-changed:
		case <-c.closed:
			return 0, io.EOF
		}
	}
}

// Close unblocks pending and future reads. The log is unaffected.
func (c *Cursor) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
