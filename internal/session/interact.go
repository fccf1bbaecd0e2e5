package session

import (
	"io"
	"log/slog"

	"github.com/acolita/goexpect/internal/relay"
)

// Interact hands the subordinate to the console: console input is relayed
// to the subordinate and its output to the console, starting from what no
// wait has consumed yet. The echo of the session's own relays is switched
// off. Interactive mode lasts until Stop.
func (s *Session) Interact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return ErrClosed
	}
	if s.interactive != nil {
		return ErrAlreadyInteractive
	}

	s.stdout.relay.StopEcho()
	if s.stderr != nil {
		s.stderr.relay.StopEcho()
	}

	con := s.opts.Console
	if con.In != nil {
		in := relay.New(noCloseReader{con.In}, relay.Options{
			Name:   "console-stdin",
			Sink:   s.sub.Stdin(),
			Logger: s.log,
		})
		s.interactive = append(s.interactive, in)
	}
	if con.Out != nil {
		s.interactive = append(s.interactive, s.mirror("console-stdout", s.stdout, con.Out))
	}
	if con.Err != nil && s.stderr != nil {
		s.interactive = append(s.interactive, s.mirror("console-stderr", s.stderr, con.Err))
	}
	if s.interactive == nil {
		s.interactive = []*relay.Relay{}
	}

	for _, r := range s.interactive {
		r.Start()
	}
	s.log.Debug("interactive mode started", slog.Int("relays", len(s.interactive)))
	return nil
}

// mirror relays st's unconsumed output to w. Must be called with s.mu held.
func (s *Session) mirror(name string, st *stream, w io.Writer) *relay.Relay {
	cur := st.relay.CursorAt(st.cursor.Offset())
	s.mirrors = append(s.mirrors, cur)
	return relay.New(cur, relay.Options{
		Name:   name,
		Sink:   noCloseWriter{w},
		Logger: s.log,
	})
}

// noCloseReader and noCloseWriter keep a relay reaching end of stream from
// closing the console.
type noCloseReader struct{ io.Reader }

type noCloseWriter struct{ io.Writer }
