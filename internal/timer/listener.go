package timer

import "sync"

// Func adapts two functions into a Listener. Either may be nil.
type Func struct {
	Timeout     func()
	Interrupted func(reason error)
}

// OnTimeout implements Listener.
func (f Func) OnTimeout() {
	if f.Timeout != nil {
		f.Timeout()
	}
}

// OnInterrupted implements Listener.
func (f Func) OnInterrupted(reason error) {
	if f.Interrupted != nil {
		f.Interrupted(reason)
	}
}

// Signal is a Listener that closes a channel when either callback fires.
type Signal struct {
	once     sync.Once
	fired    chan struct{}
	mu       sync.Mutex
	timedOut bool
	reason   error
}

// NewSignal returns a ready Signal.
func NewSignal() *Signal {
	return &Signal{fired: make(chan struct{})}
}

// Fired is closed once the timer expired or was interrupted.
func (s *Signal) Fired() <-chan struct{} { return s.fired }

// TimedOut reports whether the timer expired (as opposed to interrupted).
func (s *Signal) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOut
}

// Reason returns the interruption cause, nil on expiry or while pending.
func (s *Signal) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// OnTimeout implements Listener.
func (s *Signal) OnTimeout() {
	s.mu.Lock()
	s.timedOut = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.fired) })
}

// OnInterrupted implements Listener.
func (s *Signal) OnInterrupted(reason error) {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	s.once.Do(func() { close(s.fired) })
}
