package signaling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnector_Defaults(t *testing.T) {
	t.Parallel()

	r := NewReconnector(ReconnectorConfig{Dial: func(context.Context) error { return nil }})
	if r.delay != DefaultReconnectDelay {
		t.Errorf("delay = %v, want %v", r.delay, DefaultReconnectDelay)
	}
	if r.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0 (unbounded)", r.maxRetries)
	}
	if r.maxDelay != 0 {
		t.Errorf("maxDelay = %v, want 0 (fixed)", r.maxDelay)
	}
}

func TestReconnector_WaitsDelayBeforeDial(t *testing.T) {
	t.Parallel()

	dialed := make(chan time.Time, 1)
	r := NewReconnector(ReconnectorConfig{
		Delay: 50 * time.Millisecond,
		Dial: func(context.Context) error {
			dialed <- time.Now()
			return nil
		},
	})
	r.Monitor(t.Context())
	t.Cleanup(r.Stop)

	start := time.Now()
	r.NotifyDisconnect()

	select {
	case at := <-dialed:
		if got := at.Sub(start); got < 50*time.Millisecond {
			t.Errorf("dialed after %v, want at least 50ms", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never happened")
	}
}

func TestReconnector_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	done := make(chan struct{})
	r := NewReconnector(ReconnectorConfig{
		Delay: time.Millisecond,
		Dial: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("relay down")
			}
			close(done)
			return nil
		},
	})
	r.Monitor(t.Context())
	t.Cleanup(r.Stop)

	r.NotifyDisconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not succeed")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("dial calls = %d, want 3", got)
	}
}

func TestReconnector_MaxRetries(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var attempts []int
	r := NewReconnector(ReconnectorConfig{
		Delay:      time.Millisecond,
		MaxRetries: 2,
		Dial:       func(context.Context) error { return errors.New("relay down") },
		OnAttempt: func(attempt int, _ error) {
			mu.Lock()
			attempts = append(attempts, attempt)
			mu.Unlock()
		},
	})
	r.Monitor(t.Context())
	t.Cleanup(r.Stop)

	r.NotifyDisconnect()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %v, want [1 2]", attempts)
	}
}

func TestReconnector_NotifyCoalesces(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	r := NewReconnector(ReconnectorConfig{
		Delay: time.Millisecond,
		Dial: func(context.Context) error {
			calls.Add(1)
			<-release
			return nil
		},
	})

	// Three requests before the loop runs collapse into one pending cycle.
	r.NotifyDisconnect()
	r.NotifyDisconnect()
	r.NotifyDisconnect()

	r.Monitor(t.Context())
	t.Cleanup(r.Stop)
	close(release)

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestReconnector_StopAbortsWait(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewReconnector(ReconnectorConfig{
		Delay: time.Hour,
		Dial: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	})
	r.Monitor(context.Background())
	r.NotifyDisconnect()
	r.Stop()
	r.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("dial calls = %d, want 0", got)
	}
}

func TestReconnector_BackoffCapped(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var stamps []time.Time
	r := NewReconnector(ReconnectorConfig{
		Delay:      10 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		MaxRetries: 4,
		Dial: func(context.Context) error {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			return errors.New("relay down")
		},
	})
	r.Monitor(t.Context())
	t.Cleanup(r.Stop)
	r.NotifyDisconnect()
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 4 {
		t.Fatalf("dials = %d, want 4", len(stamps))
	}
	for i := 2; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 20*time.Millisecond {
			t.Errorf("gap before dial %d = %v, want at least the 20ms cap", i+1, gap)
		}
	}
}
