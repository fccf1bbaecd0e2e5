// Package recording provides session recording in asciicast v2 format.
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/acolita/goexpect/internal/ports"
)

// Recorder records a session's I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock

	// partial holds the start of a UTF-8 sequence split across output chunks.
	partial []byte
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64 `json:"-"`
	Type string  `json:"-"`
	Data string  `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// Options describes a new recording.
type Options struct {
	Dir    string
	Name   string // file name prefix
	Title  string
	Width  int // default 80
	Height int // default 24
}

// New creates <Dir>/<Name>_<timestamp>.cast and writes the header.
func New(opts Options, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Height <= 0 {
		opts.Height = 24
	}
	if opts.Name == "" {
		opts.Name = "session"
	}
	if err := fs.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := clock.Now()
	filename := fmt.Sprintf("%s_%s.cast", opts.Name, now.Format("20060102_150405"))
	file, err := fs.OpenFile(filepath.Join(opts.Dir, filename), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	header := Header{
		Version:   2,
		Width:     opts.Width,
		Height:    opts.Height,
		Timestamp: now.Unix(),
		Title:     opts.Title,
		Env:       map[string]string{"TERM": "dumb"},
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Recorder{file: file, startTime: now, clock: clock}, nil
}

// OutputWriter returns a writer that records everything written to it as
// output events. It never fails, so a broken recording cannot stall the
// stream it taps.
func (r *Recorder) OutputWriter() io.Writer { return outputWriter{r} }

type outputWriter struct{ r *Recorder }

func (w outputWriter) Write(p []byte) (int, error) {
	w.r.recordOutput(p)
	return len(p), nil
}

func (r *Recorder) recordOutput(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := append(r.partial, p...)
	cut := completePrefix(data)
	r.partial = append([]byte(nil), data[cut:]...)
	if cut == 0 {
		return
	}
	if err := r.writeLocked("o", string(data[:cut])); err != nil {
		slog.Warn("recording output failed", slog.String("error", err.Error()))
	}
}

// completePrefix returns the length of data without a trailing incomplete
// UTF-8 sequence.
func completePrefix(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if utf8.FullRune(data[i:]) {
			return len(data)
		}
		return i
	}
	return len(data)
}

// RecordInput records data sent to the subordinate.
func (r *Recorder) RecordInput(data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writeLocked("i", data); err != nil {
		slog.Warn("recording input failed", slog.String("error", err.Error()))
	}
}

func (r *Recorder) writeLocked(eventType, data string) error {
	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes a pending partial sequence and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if len(r.partial) > 0 {
		_ = r.writeLocked("o", string(r.partial))
		r.partial = nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}
