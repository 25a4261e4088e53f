// Package playback feeds inbound audio chunks into a streaming [audio.Sink].
//
// The sink accepts one append at a time. When a chunk arrives while the sink
// is busy the [Consumer] either drops it (PolicyDrop) or parks it in a small
// drop-oldest queue that a pump goroutine drains as the sink becomes idle
// (PolicyQueue).
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/pkg/audio"
)

// ErrNotStarted is returned by [Consumer.HandleChunk] outside a call.
var ErrNotStarted = errors.New("playback: not started")

// Policy selects what happens to a chunk that arrives while the sink is busy.
type Policy string

const (
	PolicyQueue Policy = "queue"
	PolicyDrop  Policy = "drop"
)

// IsValid reports whether p is a known policy.
func (p Policy) IsValid() bool {
	return p == PolicyQueue || p == PolicyDrop
}

// Default configuration values.
const (
	DefaultQueueSize    = 8
	DefaultPollInterval = 50 * time.Millisecond
)

// SinkFactory opens a fresh sink for one stream.
type SinkFactory func(ctx context.Context) (audio.Sink, error)

// Config configures a [Consumer].
type Config struct {
	// Policy applies while the sink is busy. Default: queue.
	Policy Policy

	// QueueSize bounds the busy queue. Default: 8.
	QueueSize int

	// PollInterval is how often sink idleness is checked. Default: 50ms.
	PollInterval time.Duration

	// Metrics records played and dropped chunks. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Consumer plays one call's inbound audio. All methods are safe for
// concurrent use.
type Consumer struct {
	factory SinkFactory
	cfg     Config

	mu      sync.Mutex
	started bool
	ctx     context.Context
	sink    audio.Sink
	queue   [][]byte
	cancel  context.CancelFunc
	done    chan struct{}
	wake    chan struct{}
}

// New creates a Consumer that opens sinks with factory.
func New(factory SinkFactory, cfg Config) *Consumer {
	if cfg.Policy == "" {
		cfg.Policy = PolicyQueue
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Consumer{factory: factory, cfg: cfg}
}

// Start opens the sink for a new call. Starting a started consumer is a
// no-op.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sink, err := c.factory(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("playback: open sink: %w", err)
	}
	c.started = true
	c.ctx = runCtx
	c.sink = sink
	c.queue = nil
	c.cancel = cancel
	c.done = make(chan struct{})
	c.wake = make(chan struct{}, 1)

	if c.cfg.Policy == PolicyQueue {
		go c.pump(runCtx, c.done, c.wake)
	} else {
		close(c.done)
	}
	slog.Debug("playback: started", "policy", c.cfg.Policy)
	return nil
}

// HandleChunk appends data to the sink. When the sink is busy the chunk is
// dropped with [audio.ErrSinkBusy] (PolicyDrop) or queued (PolicyQueue).
// After an end of stream the next chunk opens a new sink.
func (c *Consumer) HandleChunk(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.cfg.Metrics.RecordChunkDropped(context.Background(), "playback", "not_started")
		return ErrNotStarted
	}
	if c.sink == nil {
		sink, err := c.factory(c.ctx)
		if err != nil {
			return fmt.Errorf("playback: reopen sink: %w", err)
		}
		c.sink = sink
	}

	if len(c.queue) == 0 {
		err := c.sink.Append(data)
		if err == nil {
			c.cfg.Metrics.ChunksPlayed.Add(c.ctx, 1)
			return nil
		}
		if !errors.Is(err, audio.ErrSinkBusy) {
			return fmt.Errorf("playback: append: %w", err)
		}
	}

	if c.cfg.Policy == PolicyDrop {
		c.cfg.Metrics.RecordChunkDropped(c.ctx, "playback", "sink_busy")
		slog.Warn("playback: sink busy, dropping chunk", "bytes", len(data))
		return audio.ErrSinkBusy
	}

	if len(c.queue) >= c.cfg.QueueSize {
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.cfg.Metrics.RecordChunkDropped(c.ctx, "playback", "queue_overflow")
		slog.Warn("playback: queue full, dropping oldest chunk", "queue_size", c.cfg.QueueSize)
	}
	c.queue = append(c.queue, data)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Queued returns the number of chunks waiting for the sink.
func (c *Consumer) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// EndOfStream waits until the sink is idle and the queue is drained, then
// finalises the sink. It never finalises a busy sink.
func (c *Consumer) EndOfStream(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		if c.sink == nil {
			c.mu.Unlock()
			return nil
		}
		if len(c.queue) == 0 && !c.sink.Busy() {
			sink := c.sink
			c.sink = nil
			c.mu.Unlock()
			slog.Debug("playback: end of stream")
			if err := sink.Finish(); err != nil {
				return fmt.Errorf("playback: finish: %w", err)
			}
			return nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop releases the sink and discards queued chunks. Safe to call multiple
// times.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	sink := c.sink
	c.sink = nil
	c.queue = nil
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	if sink != nil {
		if err := sink.Close(); err != nil {
			slog.Warn("playback: close sink", "err", err)
		}
	}
	slog.Debug("playback: stopped")
}

// pump moves queued chunks into the sink whenever it is idle.
func (c *Consumer) pump(ctx context.Context, done chan<- struct{}, wake <-chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
		c.drain(ctx)
	}
}

func (c *Consumer) drain(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) > 0 && c.sink != nil && ctx.Err() == nil {
		err := c.sink.Append(c.queue[0])
		if errors.Is(err, audio.ErrSinkBusy) {
			return
		}
		chunk := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		if err != nil {
			c.cfg.Metrics.RecordChunkDropped(ctx, "playback", "append_failed")
			slog.Warn("playback: append failed, dropping chunk", "err", err, "bytes", len(chunk))
			continue
		}
		c.cfg.Metrics.ChunksPlayed.Add(ctx, 1)
	}
}
