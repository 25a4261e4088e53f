// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	_ = src.Start(ctx, handler)
//	src.Emit(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//
//	sink := &mock.Sink{}
//	sink.SetBusy(true)
//	err := sink.Append(chunk) // audio.ErrSinkBusy
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcall/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source]. Frames are injected with [Source.Emit].
type Source struct {
	mu      sync.Mutex
	handler audio.FrameHandler

	// StartError is returned by Start. When non-nil the handler is not stored.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context, handler audio.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.handler = handler
	return nil
}

// Stop implements [audio.Source]. After Stop, Emit is a no-op.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.handler = nil
	return s.StopError
}

// Emit delivers frame to the registered handler on the caller's goroutine.
// It reports whether a handler was registered.
func (s *Source) Emit(frame audio.AudioFrame) bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(frame)
	return true
}

// Running reports whether Start succeeded and Stop has not been called since.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink]. It is idle unless SetBusy(true) is called or
// BusyAfterAppend is set.
type Sink struct {
	mu     sync.Mutex
	busy   bool
	closed bool

	// BusyAfterAppend makes every successful Append leave the sink busy until
	// the test calls SetBusy(false).
	BusyAfterAppend bool

	// AppendError, when non-nil, is returned by Append instead of recording.
	AppendError error

	// FinishError is returned by Finish.
	FinishError error

	// Appended records the payload of every accepted Append, in order.
	Appended [][]byte

	// CallCountAppend counts every Append call, accepted or not.
	CallCountAppend int

	// CallCountFinish records how many times Finish was called.
	CallCountFinish int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Append implements [audio.Sink].
func (s *Sink) Append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountAppend++
	switch {
	case s.closed:
		return audio.ErrSinkClosed
	case s.busy:
		return audio.ErrSinkBusy
	case s.AppendError != nil:
		return s.AppendError
	}
	s.Appended = append(s.Appended, append([]byte(nil), data...))
	if s.BusyAfterAppend {
		s.busy = true
	}
	return nil
}

// Busy implements [audio.Sink].
func (s *Sink) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// SetBusy sets the value reported by Busy.
func (s *Sink) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// Finish implements [audio.Sink].
func (s *Sink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFinish++
	s.closed = true
	return s.FinishError
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// AppendedChunks returns a copy of the accepted payloads.
func (s *Sink) AppendedChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Appended))
	copy(out, s.Appended)
	return out
}

// Finished reports how many times Finish was called.
func (s *Sink) Finished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountFinish
}

// Closed reports how many times Close was called.
func (s *Sink) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}
