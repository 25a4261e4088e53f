package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrSinkBusy is returned by [Sink.Append] while a previous append is still
// being consumed.
var ErrSinkBusy = errors.New("audio: sink busy")

// ErrSinkClosed is returned by [Sink.Append] after [Sink.Finish] or
// [Sink.Close].
var ErrSinkClosed = errors.New("audio: sink closed")

// DeviceAccessError reports that an audio device could not be opened, for
// example because the microphone permission was denied or no input exists.
type DeviceAccessError struct {
	Device string
	Err    error
}

func (e *DeviceAccessError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio: device access: %v", e.Err)
	}
	return fmt.Sprintf("audio: device access %q: %v", e.Device, e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// FrameHandler receives captured frames. It is invoked on the source's own
// goroutine and must not block.
type FrameHandler func(AudioFrame)

// Source is a capture device. Start begins delivering frames to handler until
// Stop is called or ctx is cancelled. A Source is started at most once per
// call; Stop is idempotent.
type Source interface {
	Start(ctx context.Context, handler FrameHandler) error
	Stop() error
}

// Sink is an append-only streaming playback target.
//
// At most one Append may be in flight: while Busy reports true, Append
// returns [ErrSinkBusy] without consuming the data. Finish marks end of
// stream and lets queued data play out; Close releases the sink immediately.
type Sink interface {
	Append(data []byte) error
	Busy() bool
	Finish() error
	Close() error
}
