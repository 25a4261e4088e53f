// Package capture turns microphone frames into audio_chunk messages on the
// signaling channel.
//
// Two policies are supported. In gated mode (push-to-talk) every frame
// captured while the trigger is held is sent on its own, and releasing the
// trigger sends one empty terminal chunk. In interval mode frames are
// buffered and flushed as one terminal chunk on a fixed tick.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/protocol"
	"github.com/MrWong99/voxcall/internal/signaling"
	"github.com/MrWong99/voxcall/pkg/audio"
)

// ErrChannelNotReady is returned by [Producer.Start] while the signaling
// channel is not open. It wraps [signaling.ErrNotConnected].
var ErrChannelNotReady = fmt.Errorf("capture: channel not ready: %w", signaling.ErrNotConnected)

// Mode selects the capture policy.
type Mode string

const (
	ModeGated    Mode = "gated"
	ModeInterval Mode = "interval"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeGated || m == ModeInterval
}

// Default configuration values.
const (
	DefaultInterval      = 3 * time.Second
	DefaultQueueSize     = 64
	DefaultMarkerTimeout = 2 * time.Second
)

// stopWait is how long Stop waits for an in-flight send before returning.
// The send itself is bounded by the channel's write timeout.
const stopWait = 250 * time.Millisecond

// TriggerEvent is a push-to-talk trigger edge.
type TriggerEvent int

const (
	TriggerPress TriggerEvent = iota + 1
	TriggerRelease
)

// String implements [fmt.Stringer].
func (e TriggerEvent) String() string {
	switch e {
	case TriggerPress:
		return "press"
	case TriggerRelease:
		return "release"
	}
	return "unknown"
}

// Channel is the part of the signaling channel the producer needs.
type Channel interface {
	Send(ctx context.Context, msg protocol.Message) error
	State() signaling.State
}

// Config configures a [Producer].
type Config struct {
	// Mode selects the policy. Default: gated.
	Mode Mode

	// Interval is the flush period in interval mode. Default: 3s.
	Interval time.Duration

	// QueueSize bounds the outbound message queue. Default: 64.
	QueueSize int

	// MarkerTimeout bounds how long a release waits for queue room for the
	// terminal marker. The marker is dropped and counted after it.
	// Default: 2s.
	MarkerTimeout time.Duration

	// Metrics records sent and dropped chunks. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Producer captures audio from a source while a call is ongoing and sends
// it over the channel. All methods are safe for concurrent use.
type Producer struct {
	cfg Config
	ch  Channel
	src audio.Source

	mu      sync.Mutex
	running bool
	pressed bool
	// armed is set by a press and cleared when the terminal marker is sent.
	armed  bool
	buf    ChunkBuffer
	queue  chan protocol.Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	// sendDone is closed when the current send loop exits.
	sendDone chan struct{}
}

// New creates a Producer reading from src and sending on ch.
func New(ch Channel, src audio.Source, cfg Config) *Producer {
	if cfg.Mode == "" {
		cfg.Mode = ModeGated
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MarkerTimeout <= 0 {
		cfg.MarkerTimeout = DefaultMarkerTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Producer{cfg: cfg, ch: ch, src: src}
}

// Mode returns the configured policy.
func (p *Producer) Mode() Mode { return p.cfg.Mode }

// Running reports whether capture is active.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins capturing. It fails with [ErrChannelNotReady] unless the
// channel is open, and with the source's error (typically an
// [*audio.DeviceAccessError]) when the device cannot be opened. Starting a
// running producer is a no-op.
func (p *Producer) Start(ctx context.Context) error {
	if p.ch.State() != signaling.StateOpen {
		return ErrChannelNotReady
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wg := &sync.WaitGroup{}
	sendDone := make(chan struct{})
	p.running = true
	p.armed = false
	p.buf.Reset()
	p.queue = make(chan protocol.Message, p.cfg.QueueSize)
	p.ctx = runCtx
	p.cancel = cancel
	p.wg = wg
	p.sendDone = sendDone
	queue := p.queue

	go func() {
		defer close(sendDone)
		p.sendLoop(runCtx, queue)
	}()
	if p.cfg.Mode == ModeInterval {
		wg.Go(func() { p.flushLoop(runCtx) })
	}
	p.mu.Unlock()

	if err := p.src.Start(runCtx, p.onFrame); err != nil {
		p.Stop()
		var devErr *audio.DeviceAccessError
		if errors.As(err, &devErr) {
			return err
		}
		return fmt.Errorf("capture: start source: %w", err)
	}

	slog.Info("capture: started", "mode", p.cfg.Mode)
	return nil
}

// Stop ends capture. Buffered and queued audio is discarded, not flushed.
// A send already on the wire is left to finish in the background once
// stopWait has passed. Safe to call multiple times.
func (p *Producer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.armed = false
	p.buf.Reset()
	cancel, wg, sendDone := p.cancel, p.wg, p.sendDone
	p.mu.Unlock()

	if err := p.src.Stop(); err != nil {
		slog.Warn("capture: stop source", "err", err)
	}
	cancel()
	wg.Wait()

	timer := time.NewTimer(stopWait)
	defer timer.Stop()
	select {
	case <-sendDone:
	case <-timer.C:
		slog.Debug("capture: send still in flight after stop")
	}
	slog.Info("capture: stopped", "mode", p.cfg.Mode)
}

// Trigger applies a push-to-talk edge. Triggers only affect gated mode.
func (p *Producer) Trigger(ev TriggerEvent) {
	if p.cfg.Mode != ModeGated {
		return
	}

	p.mu.Lock()
	switch ev {
	case TriggerPress:
		p.pressed = true
		if p.running {
			p.armed = true
		}
		p.mu.Unlock()
		return
	case TriggerRelease:
		p.pressed = false
		if !p.running || !p.armed {
			p.mu.Unlock()
			return
		}
		p.armed = false
		ctx, queue := p.ctx, p.queue
		// Queue the marker while still holding the lock so it lands after
		// every frame accepted before the release.
		select {
		case queue <- protocol.NewTerminalMarker():
			p.mu.Unlock()
			return
		default:
		}
		p.mu.Unlock()

		// The queue is full; wait a bounded time for room.
		timer := time.NewTimer(p.cfg.MarkerTimeout)
		defer timer.Stop()
		select {
		case queue <- protocol.NewTerminalMarker():
		case <-ctx.Done():
		case <-timer.C:
			p.cfg.Metrics.RecordChunkDropped(ctx, "capture", "marker_timeout")
			slog.Warn("capture: outbound queue stalled, dropping terminal marker",
				"timeout", p.cfg.MarkerTimeout,
			)
		}
	default:
		p.mu.Unlock()
	}
}

// ConsumeTriggers applies events from events until it is closed or ctx is
// done.
func (p *Producer) ConsumeTriggers(ctx context.Context, events <-chan TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Trigger(ev)
		}
	}
}

// onFrame is the source callback. It never blocks.
func (p *Producer) onFrame(frame audio.AudioFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || len(frame.Data) == 0 {
		return
	}

	switch p.cfg.Mode {
	case ModeInterval:
		p.buf.Append(frame.Data)
	default:
		if !p.pressed {
			return
		}
		p.armed = true
		p.enqueueLocked(protocol.NewAudioChunk(frame.Data, false))
	}
}

// enqueueLocked offers msg to the outbound queue, dropping it when full.
// Callers hold p.mu.
func (p *Producer) enqueueLocked(msg protocol.Message) {
	select {
	case p.queue <- msg:
	default:
		p.cfg.Metrics.RecordChunkDropped(p.ctx, "capture", "queue_full")
		slog.Warn("capture: outbound queue full, dropping chunk", "bytes", len(msg.Audio))
	}
}

// flushLoop sends the buffer as one terminal chunk on every tick.
func (p *Producer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.running && p.ctx == ctx {
				if data := p.buf.Flush(); data != nil {
					p.enqueueLocked(protocol.NewAudioChunk(data, true))
				}
			}
			p.mu.Unlock()
		}
	}
}

// sendLoop is the single writer of captured audio to the channel.
func (p *Producer) sendLoop(ctx context.Context, queue <-chan protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			if ctx.Err() != nil {
				return
			}
			if err := p.ch.Send(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.cfg.Metrics.RecordChunkDropped(ctx, "capture", "send_failed")
				slog.Warn("capture: send failed, dropping chunk", "err", err, "terminal", msg.Terminal)
				continue
			}
			p.cfg.Metrics.RecordChunkSent(ctx, string(p.cfg.Mode), msg.Terminal)
		}
	}
}
