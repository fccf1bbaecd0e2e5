// Package relay copies one direction of subordinate traffic in the
// background while keeping everything it read in a queryable log.
//
// A Relay reads bounded chunks from its source and, for every chunk, writes
// it to an optional sink, appends it to the log and mirrors it to an
// optional echo writer. Echoing can be toggled while the copy keeps going.
// Consumers read the log through Cursors, which never block the copy loop.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultChunkSize is the largest read issued against the source.
const DefaultChunkSize = 1024

// Options configures a Relay.
type Options struct {
	// Name identifies the relay in logs, e.g. "stdout".
	Name string
	// Sink receives every chunk before it is logged. Optional.
	Sink io.Writer
	// Echo mirrors every chunk while echoing is enabled. Optional.
	Echo io.Writer
	// ChunkSize bounds each read (default DefaultChunkSize).
	ChunkSize int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Relay is a background copy loop with an append-only log.
type Relay struct {
	name   string
	source io.Reader
	sink   io.Writer
	echo   io.Writer
	chunk  int
	log    *slog.Logger

	echoOn   atomic.Bool
	running  atomic.Bool
	stopping atomic.Bool
	started  atomic.Bool

	mu      sync.Mutex
	buf     []byte
	changed chan struct{}
	ended   bool
	err     error

	done chan struct{}
}

// New creates a relay over source. It does nothing until Start.
func New(source io.Reader, opts Options) *Relay {
	if source == nil {
		panic("relay: nil source")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Relay{
		name:    opts.Name,
		source:  source,
		sink:    opts.Sink,
		echo:    opts.Echo,
		chunk:   opts.ChunkSize,
		log:     opts.Logger.With(slog.String("relay", opts.Name)),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.echoOn.Store(opts.Echo != nil)
	return r
}

// Name returns the relay's name.
func (r *Relay) Name() string { return r.name }

// Start launches the copy loop. Later calls are no-ops.
func (r *Relay) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.running.Store(true)
	go r.run()
}

// StopProcessing asks the copy loop to exit after the read in progress.
// Errors the loop sees from then on are expected and dropped.
func (r *Relay) StopProcessing() {
	r.stopping.Store(true)
}

// StopEcho suspends mirroring to the echo writer.
func (r *Relay) StopEcho() { r.echoOn.Store(false) }

// StartEcho resumes mirroring to the echo writer, if one is attached.
func (r *Relay) StartEcho() { r.echoOn.Store(r.echo != nil) }

// Echoing reports whether chunks are currently mirrored.
func (r *Relay) Echoing() bool { return r.echoOn.Load() }

// Running reports whether the copy loop is active. Once false after Start it
// stays false.
func (r *Relay) Running() bool { return r.running.Load() }

// Done is closed when the copy loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Err returns the fault that ended the loop, nil for end-of-stream or an
// expected shutdown.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// CurrentContents returns everything read so far.
func (r *Relay) CurrentContents() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Len returns the number of bytes read so far.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

func (r *Relay) run() {
	defer r.finish()
	r.log.Debug("relay started")

	buf := make([]byte, r.chunk)
	for !r.stopping.Load() {
		n, err := r.source.Read(buf)
		if n > 0 {
			if werr := r.deliver(buf[:n]); werr != nil {
				r.fail("write sink", werr)
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			r.log.Debug("relay reached end of stream", slog.Int("bytes", r.Len()))
			r.closeStreams()
			return
		}
		r.fail("read source", err)
		return
	}
	r.log.Debug("relay stopped on request")
}

// deliver hands one chunk to sink, log and echo, in that order.
func (r *Relay) deliver(p []byte) error {
	if r.sink != nil {
		if _, err := r.sink.Write(p); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.buf = append(r.buf, p...)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	if r.echo != nil && r.echoOn.Load() {
		if _, err := r.echo.Write(p); err != nil {
			r.log.Warn("echo disabled after write failure", slog.String("error", err.Error()))
			r.echoOn.Store(false)
			return nil
		}
		if f, ok := r.echo.(interface{ Flush() error }); ok {
			_ = f.Flush()
		}
	}

	if f, ok := r.sink.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (r *Relay) fail(op string, err error) {
	if r.stopping.Load() {
		r.log.Debug("relay error after stop ignored", slog.String("op", op), slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	r.err = &Fault{Relay: r.name, Op: op, Err: err}
	r.mu.Unlock()

	level := slog.LevelWarn
	if IsHarmless(err) {
		level = slog.LevelDebug
	}
	r.log.Log(context.Background(), level, "relay fault", slog.String("op", op), slog.String("error", err.Error()))
}

func (r *Relay) closeStreams() {
	if c, ok := r.source.(io.Closer); ok {
		_ = c.Close()
	}
	if c, ok := r.sink.(io.Closer); ok {
		_ = c.Close()
	}
}

func (r *Relay) finish() {
	r.running.Store(false)

	r.mu.Lock()
	r.ended = true
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	close(r.done)
}

// snapshot returns the log from off, the channel that signals the next
// change, and whether the loop has ended. Taken under one lock so a waiter
// cannot miss a wakeup.
func (r *Relay) snapshot(off int) ([]byte, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if off > len(r.buf) {
		off = len(r.buf)
	}
	return r.buf[off:len(r.buf):len(r.buf)], r.changed, r.ended
}
