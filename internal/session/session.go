// Package session ties one signed-in identity to its signaling channel, call
// state machine, capture producer and playback consumer.
//
// A [Session] owns every per-identity resource. Inbound messages drive the
// [call.Machine]; the machine's transitions start and stop audio; user
// actions arrive through the exported methods. Optional collaborators (the
// user directory and the call log) are consulted around those transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcall/internal/call"
	"github.com/MrWong99/voxcall/internal/calllog"
	"github.com/MrWong99/voxcall/internal/capture"
	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/playback"
	"github.com/MrWong99/voxcall/internal/protocol"
	"github.com/MrWong99/voxcall/internal/signaling"
	"github.com/MrWong99/voxcall/pkg/audio"
)

// directoryTimeout bounds every directory request made on behalf of the
// session.
const directoryTimeout = 5 * time.Second

const callLogTimeout = 5 * time.Second

// Channel is the signaling channel as seen by a session.
// *signaling.Channel satisfies it.
type Channel interface {
	capture.Channel
	Connect(ctx context.Context, id signaling.Identity) error
	OnMessage(fn func(protocol.Message))
	OnStateChange(fn func(signaling.State))
	Close() error
}

// Directory resolves names and announces calls. *directory.Client satisfies it.
type Directory interface {
	UserName(ctx context.Context, id string) (string, error)
	StartCall(ctx context.Context, callerID, recipientID string) error
	AcceptCall(ctx context.Context, callerID, recipientID string) error
}

var _ Channel = (*signaling.Channel)(nil)

// Config holds the collaborators of a [Session]. Channel, Source and Sinks
// are required.
type Config struct {
	Identity signaling.Identity
	Channel  Channel
	Source   audio.Source
	Sinks    playback.SinkFactory

	Capture  capture.Config
	Playback playback.Config

	// Directory is optional. Without it names stay empty and calls are not
	// announced.
	Directory Directory

	// CallLog is optional.
	CallLog calllog.Store

	// OnError receives failures the user should see, such as a microphone
	// that cannot be opened or a channel that is not connected.
	OnError func(error)

	Metrics *observe.Metrics
	Now     func() time.Time
}

// Session is one identity's live call context. All methods are safe for
// concurrent use.
type Session struct {
	id  string
	cfg Config

	machine  *call.Machine
	producer *capture.Producer
	consumer *playback.Consumer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	direction calllog.Direction
	closing   bool

	closeOnce sync.Once
}

// New validates cfg and wires a Session. Nothing is connected until
// [Session.Start].
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Channel == nil {
		errs = append(errs, errors.New("channel is required"))
	}
	if cfg.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if cfg.Sinks == nil {
		errs = append(errs, errors.New("sink factory is required"))
	}
	if cfg.Identity.UserID == "" {
		errs = append(errs, errors.New("user id is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Capture.Metrics == nil {
		cfg.Capture.Metrics = cfg.Metrics
	}
	if cfg.Playback.Metrics == nil {
		cfg.Playback.Metrics = cfg.Metrics
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithLogAttrs(context.Background(), slog.String("session_id", id)))
	s := &Session{
		id:       id,
		cfg:      cfg,
		machine:  call.New(call.WithClock(cfg.Now), call.WithMetrics(cfg.Metrics)),
		producer: capture.New(cfg.Channel, cfg.Source, cfg.Capture),
		consumer: playback.New(cfg.Sinks, cfg.Playback),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.machine.Subscribe(s.onTransition)
	cfg.Channel.OnMessage(s.onMessage)
	cfg.Channel.OnStateChange(s.onChannelState)
	return s, nil
}

// ID returns the random identifier of this session.
func (s *Session) ID() string { return s.id }

// UserID returns the identity the session signs in as.
func (s *Session) UserID() string { return s.cfg.Identity.UserID }

// Start connects the channel. A failed connect is retried in the background,
// so the returned error is informational.
func (s *Session) Start(ctx context.Context) error {
	slog.Info("session: starting", "session_id", s.id, "user_id", s.cfg.Identity.UserID)
	if err := s.cfg.Channel.Connect(ctx, s.cfg.Identity); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	return nil
}

// Ready reports whether the signaling channel is open.
func (s *Session) Ready() bool {
	return s.cfg.Channel.State() == signaling.StateOpen
}

// State returns the current call state.
func (s *Session) State() call.State { return s.machine.Snapshot() }

// Subscribe registers fn for every call transition. Do not call session
// actions from fn; start a goroutine instead.
func (s *Session) Subscribe(fn func(call.Transition)) (unsubscribe func()) {
	return s.machine.Subscribe(fn)
}

// RecentCalls returns up to n finished calls, newest first. Without a call
// log it returns nil.
func (s *Session) RecentCalls(ctx context.Context, n int) ([]calllog.Record, error) {
	if s.cfg.CallLog == nil {
		return nil, nil
	}
	return s.cfg.CallLog.Recent(ctx, n)
}

// Close ends any call, closes the channel and waits for background work.
// Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.cfg.Channel.Close()
		s.producer.Stop()
		s.consumer.Stop()

		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.cancel()
		s.wg.Wait()
		slog.Info("session: closed", "session_id", s.id)
	})
	return err
}

// ── User actions ─────────────────────────────────────────────────────────────

// PlaceCall calls peer. The call becomes ongoing immediately.
func (s *Session) PlaceCall(ctx context.Context, peer call.Peer) error {
	if peer.ID == "" {
		return call.ErrEmptyPeer
	}
	if st := s.machine.Snapshot(); st.Status != call.StatusIdle {
		return fmt.Errorf("session: place call while %s: %w", st.Status, call.ErrInvalidTransition)
	}
	s.announce(ctx, "call_start", func(ctx context.Context, d Directory) error {
		return d.StartCall(ctx, s.cfg.Identity.UserID, peer.ID)
	})

	s.mu.Lock()
	s.direction = calllog.DirectionOutgoing
	s.mu.Unlock()
	if err := s.machine.PlaceCall(peer); err != nil {
		return fmt.Errorf("session: place call: %w", err)
	}
	return nil
}

// Accept answers the ringing call.
func (s *Session) Accept(ctx context.Context) error {
	st := s.machine.Snapshot()
	if st.Status != call.StatusIncoming {
		return fmt.Errorf("session: accept while %s: %w", st.Status, call.ErrInvalidTransition)
	}
	s.announce(ctx, "call_accept", func(ctx context.Context, d Directory) error {
		return d.AcceptCall(ctx, st.PeerID(), s.cfg.Identity.UserID)
	})

	s.mu.Lock()
	s.direction = calllog.DirectionIncoming
	s.mu.Unlock()
	if err := s.machine.Accept(); err != nil {
		return fmt.Errorf("session: accept: %w", err)
	}
	return nil
}

// Reject declines the ringing call.
func (s *Session) Reject() error {
	if err := s.machine.Reject(); err != nil {
		return fmt.Errorf("session: reject: %w", err)
	}
	return nil
}

// HangUp ends the ongoing call.
func (s *Session) HangUp() error {
	if err := s.machine.HangUp(); err != nil {
		return fmt.Errorf("session: hang up: %w", err)
	}
	return nil
}

// Press starts talking (gated capture).
func (s *Session) Press() { s.producer.Trigger(capture.TriggerPress) }

// Release stops talking and marks the end of the utterance.
func (s *Session) Release() { s.producer.Trigger(capture.TriggerRelease) }

// ConsumeTriggers applies push-to-talk edges from events until events is
// closed or ctx is done. It blocks; run it on its own goroutine.
func (s *Session) ConsumeTriggers(ctx context.Context, events <-chan capture.TriggerEvent) {
	s.producer.ConsumeTriggers(ctx, events)
}

// announce runs a directory call. Failures are reported but never stop the
// call flow.
func (s *Session) announce(ctx context.Context, op string, fn func(context.Context, Directory) error) {
	if s.cfg.Directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()
	if err := fn(ctx, s.cfg.Directory); err != nil {
		slog.Warn("session: directory request failed", "op", op, "err", err)
		s.report(err)
	}
}

// ── Event wiring ─────────────────────────────────────────────────────────────

func (s *Session) onMessage(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindAudioChunk:
		s.playChunk(msg)
	case protocol.KindEndOfStream:
		// EndOfStream polls the sink; keep it off the read goroutine.
		s.goBackground(func(ctx context.Context) {
			if err := s.consumer.EndOfStream(ctx); err != nil && ctx.Err() == nil {
				observe.Logger(ctx).Warn("session: end of stream", "err", err)
			}
		})
	default:
		s.machine.HandleMessage(msg)
	}
}

func (s *Session) playChunk(msg protocol.Message) {
	if len(msg.Audio) == 0 {
		return
	}
	if s.machine.Snapshot().Status != call.StatusOngoing {
		slog.Debug("session: audio outside a call", "bytes", len(msg.Audio))
		return
	}
	err := s.consumer.HandleChunk(msg.Audio)
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrSinkBusy):
		slog.Warn("session: playback busy, chunk dropped", "bytes", len(msg.Audio))
	default:
		slog.Warn("session: playback", "err", err)
	}
}

func (s *Session) onChannelState(st signaling.State) {
	switch st {
	case signaling.StateClosed:
		s.machine.HandleConnectionClosed()
	case signaling.StateOpen:
		if s.machine.Snapshot().Status == call.StatusOngoing {
			s.startAudio()
		}
	}
}

func (s *Session) onTransition(tr call.Transition) {
	switch {
	case tr.Started():
		s.startAudio()
	case tr.To.Status == call.StatusIdle && tr.From.Status != call.StatusIdle:
		s.producer.Stop()
		s.consumer.Stop()
	}

	if tr.Ended() {
		s.logCall(tr)
	}
	if tr.From.Status == call.StatusIdle && tr.To.Peer != nil && tr.To.Peer.Name == "" {
		s.resolveName(tr.To.Peer.ID)
	}
}

// startAudio opens playback and capture for the ongoing call. Both are
// idempotent, so this also re-arms capture after a reconnect.
func (s *Session) startAudio() {
	if err := s.consumer.Start(s.ctx); err != nil {
		slog.Error("session: start playback", "err", err)
		s.report(err)
	}
	if err := s.producer.Start(s.ctx); err != nil {
		slog.Error("session: start capture", "err", err)
		s.report(err)
	}
}

func (s *Session) logCall(tr call.Transition) {
	if s.cfg.CallLog == nil || tr.From.Peer == nil {
		return
	}
	s.mu.Lock()
	dir := s.direction
	s.mu.Unlock()
	if dir == "" {
		dir = calllog.DirectionOutgoing
	}

	reason := calllog.EndHangUp
	if tr.Cause == call.CauseConnectionClosed {
		reason = calllog.EndConnectionLost
	}
	rec := calllog.Record{
		ID:        uuid.New(),
		PeerID:    tr.From.Peer.ID,
		PeerName:  tr.From.Peer.Name,
		Direction: dir,
		StartedAt: tr.From.StartTime,
		EndedAt:   s.cfg.Now(),
		EndReason: reason,
	}
	s.goBackground(func(ctx context.Context) {
		// The record must survive session shutdown.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callLogTimeout)
		defer cancel()
		if err := s.cfg.CallLog.Record(ctx, rec); err != nil {
			observe.Logger(ctx).Warn("session: write call log", "peer_id", rec.PeerID, "err", err)
		}
	})
}

func (s *Session) resolveName(peerID string) {
	if s.cfg.Directory == nil {
		return
	}
	s.goBackground(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, directoryTimeout)
		defer cancel()
		name, err := s.cfg.Directory.UserName(ctx, peerID)
		if err != nil {
			observe.Logger(ctx).Debug("session: resolve peer name", "peer_id", peerID, "err", err)
			return
		}
		s.machine.SetPeerName(peerID, name)
	})
}

// goBackground runs fn on the session context unless the session is closing.
func (s *Session) goBackground(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.wg.Go(func() { fn(s.ctx) })
}

func (s *Session) report(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}
