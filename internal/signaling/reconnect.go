package signaling

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultReconnectDelay is the wait before each reconnect dial.
const DefaultReconnectDelay = 2 * time.Second

// Reconnector runs reconnect cycles for a [Channel].
//
// A cycle is requested with [Reconnector.NotifyDisconnect]; requests made
// while a cycle is pending coalesce into one. Each cycle waits the delay and
// then dials, repeating until a dial succeeds, the retry limit is reached, or
// the Reconnector is stopped.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dial       func(ctx context.Context) error
	delay      time.Duration
	maxDelay   time.Duration
	maxRetries int
	onAttempt  func(attempt int, err error)

	done         chan struct{}
	stopOnce     sync.Once
	startOnce    sync.Once
	disconnected chan struct{}
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dial opens a new connection. It must not request a new cycle itself.
	Dial func(ctx context.Context) error

	// Delay is the wait before every dial. Defaults to DefaultReconnectDelay.
	Delay time.Duration

	// MaxDelay, when greater than Delay, doubles the wait after each failed
	// dial up to this cap. Zero keeps the delay fixed.
	MaxDelay time.Duration

	// MaxRetries bounds the dials per cycle. Zero retries forever.
	MaxRetries int

	// OnAttempt is called after every dial with its result. May be nil.
	OnAttempt func(attempt int, err error)
}

// NewReconnector creates a [Reconnector]. Call [Reconnector.Monitor] to start
// serving cycles.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Reconnector{
		dial:         cfg.Dial,
		delay:        delay,
		maxDelay:     cfg.MaxDelay,
		maxRetries:   max(cfg.MaxRetries, 0),
		onAttempt:    cfg.OnAttempt,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Monitor starts the background loop once; later calls are no-ops.
func (r *Reconnector) Monitor(ctx context.Context) {
	r.startOnce.Do(func() { go r.monitorLoop(ctx) })
}

// NotifyDisconnect requests a reconnect cycle. It never blocks.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop halts the loop and any cycle in progress. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect runs one cycle.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	wait := r.delay

	for attempt := 1; r.maxRetries == 0 || attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(wait):
		}

		slog.Info("signaling: reconnecting",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"delay", wait,
		)

		err := r.dial(ctx)
		if r.onAttempt != nil {
			r.onAttempt(attempt, err)
		}
		if err == nil {
			slog.Info("signaling: reconnected", "attempt", attempt)
			return
		}

		slog.Warn("signaling: reconnect attempt failed",
			"attempt", attempt,
			"err", err,
		)

		if r.maxDelay > r.delay {
			wait = min(wait*2, r.maxDelay)
		}
	}

	slog.Error("signaling: reconnect gave up", "max_retries", r.maxRetries)
}
