// Package player implements [audio.Sink] on top of a byte stream, either an
// arbitrary [io.WriteCloser] or the stdin of an external media player
// process.
//
// Each Append is written asynchronously; the sink reports busy until the
// write returns. This mirrors a media source buffer where an append is
// "updating" until the decoder has consumed it.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxcall/pkg/audio"
)

var _ audio.Sink = (*StreamSink)(nil)

// StreamSink writes appended chunks to w, one at a time.
type StreamSink struct {
	w io.WriteCloser

	busy   atomic.Bool
	closed atomic.Bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	// wait, if set, is run after the writer is closed by Finish.
	wait func() error
	// kill, if set, is run by Close.
	kill func()

	errMu    sync.Mutex
	writeErr error
}

// NewStreamSink wraps w. The sink owns w and closes it on Finish or Close.
func NewStreamSink(w io.WriteCloser) *StreamSink {
	return &StreamSink{w: w}
}

// Append implements [audio.Sink]. The write happens on a new goroutine; data
// must not be modified by the caller afterwards.
func (s *StreamSink) Append(data []byte) error {
	if s.closed.Load() {
		return audio.ErrSinkClosed
	}
	if err := s.lastErr(); err != nil {
		return fmt.Errorf("player: append: %w", err)
	}
	if !s.busy.CompareAndSwap(false, true) {
		return audio.ErrSinkBusy
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		if _, err := s.w.Write(data); err != nil && !s.closed.Load() {
			s.errMu.Lock()
			s.writeErr = err
			s.errMu.Unlock()
			slog.Warn("player: write failed", "err", err)
		}
	}()
	return nil
}

// Busy implements [audio.Sink].
func (s *StreamSink) Busy() bool { return s.busy.Load() }

// Finish implements [audio.Sink]. It waits for the in-flight append, closes
// the writer, and for process sinks waits for the player to exit.
func (s *StreamSink) Finish() error {
	s.closed.Store(true)
	s.wg.Wait()
	return s.release(true)
}

// Close implements [audio.Sink]. Unlike Finish it does not wait for the
// in-flight append nor for a player process to drain.
func (s *StreamSink) Close() error {
	s.closed.Store(true)
	return s.release(false)
}

func (s *StreamSink) release(drain bool) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.w.Close()
		if !drain && s.kill != nil {
			s.kill()
		}
		if drain && s.wait != nil {
			if err := s.wait(); err != nil {
				s.closeErr = errors.Join(s.closeErr, err)
			}
		}
	})
	return s.closeErr
}

func (s *StreamSink) lastErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.writeErr
}

// NewProcess starts an external player reading encoded audio from stdin,
// e.g. NewProcess(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-").
// Close kills the process; Finish lets it play out queued audio first.
func NewProcess(ctx context.Context, name string, args ...string) (*StreamSink, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("player: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &audio.DeviceAccessError{Device: name, Err: err}
	}

	s := NewStreamSink(stdin)
	s.kill = func() {
		cancel()
		go func() { _ = cmd.Wait() }()
	}
	s.wait = func() error {
		defer cancel()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("player: %s exited: %w", name, err)
		}
		return nil
	}
	return s, nil
}
