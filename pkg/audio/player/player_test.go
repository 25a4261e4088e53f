package player_test

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxcall/pkg/audio"
	"github.com/MrWong99/voxcall/pkg/audio/player"
)

// gateWriter blocks every Write until release is closed.
type gateWriter struct {
	release chan struct{}

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func newGateWriter() *gateWriter { return &gateWriter{release: make(chan struct{})} }

func (g *gateWriter) Write(p []byte) (int, error) {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0, io.ErrClosedPipe
	}
	return g.buf.Write(p)
}

func (g *gateWriter) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *gateWriter) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.String()
}

func waitIdle(t *testing.T, s *player.StreamSink) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("sink did not become idle")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStreamSink_BusyWhileWriting(t *testing.T) {
	t.Parallel()

	w := newGateWriter()
	s := player.NewStreamSink(w)

	if err := s.Append([]byte("one")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !s.Busy() {
		t.Fatal("expected sink busy while write is blocked")
	}
	if err := s.Append([]byte("two")); !errors.Is(err, audio.ErrSinkBusy) {
		t.Fatalf("second Append error = %v, want ErrSinkBusy", err)
	}

	close(w.release)
	waitIdle(t, s)

	if err := s.Append([]byte("three")); err != nil {
		t.Fatalf("Append after idle: %v", err)
	}
	waitIdle(t, s)

	if got := w.String(); got != "onethree" {
		t.Errorf("written = %q, want %q", got, "onethree")
	}
}

func TestStreamSink_FinishWaitsForInFlight(t *testing.T) {
	t.Parallel()

	w := newGateWriter()
	s := player.NewStreamSink(w)
	if err := s.Append([]byte("tail")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Finish() }()

	select {
	case <-done:
		t.Fatal("Finish returned before the in-flight write completed")
	case <-time.After(20 * time.Millisecond):
	}

	close(w.release)
	if err := <-done; err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := w.String(); got != "tail" {
		t.Errorf("written = %q, want %q", got, "tail")
	}
	if err := s.Append([]byte("late")); !errors.Is(err, audio.ErrSinkClosed) {
		t.Errorf("Append after Finish = %v, want ErrSinkClosed", err)
	}
}

func TestStreamSink_CloseIdempotent(t *testing.T) {
	t.Parallel()

	w := newGateWriter()
	close(w.release)
	s := player.NewStreamSink(w)
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish after Close: %v", err)
	}
}
