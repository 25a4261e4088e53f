// Package mic provides an [audio.Source] backed by the system microphone.
//
// On Linux with cgo the source captures through pion/mediadevices (malgo
// driver). On other builds [Source.Start] fails with an
// [*audio.DeviceAccessError] so callers surface the same error they would for
// a denied permission.
package mic

import (
	"sync"

	"github.com/MrWong99/voxcall/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithDevice selects a capture device by label. The default device is used
// when label is empty or no device matches.
func WithDevice(label string) Option {
	return func(s *Source) { s.device = label }
}

// Source captures 16 kHz mono PCM from a microphone.
type Source struct {
	device string

	mu      sync.Mutex
	stop    func()
	running bool
}

// New creates a microphone source. No device is opened until Start.
func New(opts ...Option) *Source {
	s := &Source{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stop releases the device. It is safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.running = false
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	return nil
}
