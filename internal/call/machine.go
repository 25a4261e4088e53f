// Package call implements the call state machine, the single writer of the
// local call state.
//
// The machine moves between idle, incoming and ongoing in response to local
// user actions (PlaceCall, Accept, Reject, HangUp) and remote signaling
// events (incoming_call, call_accepted, connection closed). Every applied
// change is published to subscribers as a [Transition], in order, never
// concurrently.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/protocol"
)

var (
	// ErrInvalidTransition is returned when a local action is not allowed in
	// the current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("call: invalid transition")

	// ErrEmptyPeer is returned by PlaceCall without a peer identifier.
	ErrEmptyPeer = errors.New("call: empty peer id")
)

// Option configures a [Machine].
type Option func(*Machine)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// Machine holds the call state. It is safe for concurrent use.
//
// Subscribers run synchronously after a change is applied and must not call
// the Machine's transition methods themselves; start a goroutine for that.
type Machine struct {
	now     func() time.Time
	metrics *observe.Metrics

	mu    sync.Mutex
	state State

	// emitMu is taken before mu is released so transitions reach
	// subscribers in application order.
	emitMu sync.Mutex

	subsMu sync.RWMutex
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Transition)
}

// New returns an idle Machine.
func New(opts ...Option) *Machine {
	m := &Machine{
		now:   time.Now,
		state: State{Status: StatusIdle},
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn for every applied transition and returns a function
// that removes it.
func (m *Machine) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// ── Local actions ────────────────────────────────────────────────────────────

// PlaceCall starts an outgoing call to peer. The call is ongoing immediately,
// without waiting for the relay's acknowledgement.
func (m *Machine) PlaceCall(peer Peer) error {
	if peer.ID == "" {
		return ErrEmptyPeer
	}
	return m.local(CausePlaceCall, func(s State) (State, bool) {
		if s.Status != StatusIdle {
			return s, false
		}
		p := peer
		return State{Status: StatusOngoing, Peer: &p, StartTime: m.now()}, true
	})
}

// Accept answers the ringing call.
func (m *Machine) Accept() error {
	return m.local(CauseAccept, func(s State) (State, bool) {
		if s.Status != StatusIncoming {
			return s, false
		}
		s.Status = StatusOngoing
		s.StartTime = m.now()
		return s, true
	})
}

// Reject declines the ringing call.
func (m *Machine) Reject() error {
	return m.local(CauseReject, func(s State) (State, bool) {
		if s.Status != StatusIncoming {
			return s, false
		}
		return State{Status: StatusIdle}, true
	})
}

// HangUp ends the ongoing call.
func (m *Machine) HangUp() error {
	return m.local(CauseHangUp, func(s State) (State, bool) {
		if s.Status != StatusOngoing {
			return s, false
		}
		return State{Status: StatusIdle}, true
	})
}

// SetPeerName fills in the display name of the current peer when id still
// matches and no name is set yet. It reports whether the state changed.
func (m *Machine) SetPeerName(id, name string) bool {
	if name == "" {
		return false
	}
	return m.apply(CausePeerName, func(s State) (State, bool) {
		if s.Peer == nil || s.Peer.ID != id || s.Peer.Name != "" {
			return s, false
		}
		s.Peer.Name = name
		return s, true
	})
}

// ── Remote events ────────────────────────────────────────────────────────────

// HandleIncomingCall applies an incoming_call from callerID. It is ignored
// unless the machine is idle.
func (m *Machine) HandleIncomingCall(callerID string) bool {
	return m.remote(CauseIncomingCall, func(s State) (State, bool) {
		if s.Status != StatusIdle || callerID == "" {
			return s, false
		}
		return State{Status: StatusIncoming, Peer: &Peer{ID: callerID}}, true
	})
}

// HandleCallAccepted applies a call_accepted naming recipientID. Fields that
// are already set are never overwritten.
func (m *Machine) HandleCallAccepted(recipientID string) bool {
	return m.remote(CauseCallAccepted, func(s State) (State, bool) {
		if s.Status != StatusOngoing {
			return s, false
		}
		changed := false
		if s.Peer == nil && recipientID != "" {
			s.Peer = &Peer{ID: recipientID}
			changed = true
		}
		if s.StartTime.IsZero() {
			s.StartTime = m.now()
			changed = true
		}
		return s, changed
	})
}

// HandleConnectionClosed forces the machine to idle. It is a no-op when
// already idle, so one lost connection ends a call exactly once.
func (m *Machine) HandleConnectionClosed() bool {
	return m.remote(CauseConnectionClosed, func(s State) (State, bool) {
		if s.Status == StatusIdle {
			return s, false
		}
		return State{Status: StatusIdle}, true
	})
}

// HandleMessage routes a control message to the matching handler. Messages
// that carry no call control are ignored.
func (m *Machine) HandleMessage(msg protocol.Message) bool {
	switch msg.Kind {
	case protocol.KindIncomingCall:
		return m.HandleIncomingCall(msg.CallerID)
	case protocol.KindCallAccepted:
		return m.HandleCallAccepted(msg.RecipientID)
	}
	return false
}

// ── Internals ────────────────────────────────────────────────────────────────

func (m *Machine) local(cause Cause, fn func(State) (State, bool)) error {
	if !m.apply(cause, fn) {
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, cause, m.Snapshot().Status)
	}
	return nil
}

func (m *Machine) remote(cause Cause, fn func(State) (State, bool)) bool {
	if !m.apply(cause, fn) {
		slog.Debug("call: dropping event", "cause", cause, "state", m.Snapshot().Status)
		return false
	}
	return true
}

// apply runs fn on a copy of the state and, if it reports a change, stores
// the result and publishes the transition.
func (m *Machine) apply(cause Cause, fn func(State) (State, bool)) bool {
	m.mu.Lock()
	from := m.state.clone()
	to, ok := fn(m.state.clone())
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	tr := Transition{From: from, To: to.clone(), Cause: cause}
	m.record(tr)

	m.subsMu.RLock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.RUnlock()
	for _, s := range subs {
		s.fn(tr)
	}
	return true
}

func (m *Machine) record(tr Transition) {
	ctx := context.Background()
	if tr.From.Status != tr.To.Status {
		m.metrics.RecordTransition(ctx, string(tr.From.Status), string(tr.To.Status), string(tr.Cause))
		slog.Info("call: state changed",
			"from", tr.From.Status,
			"to", tr.To.Status,
			"cause", tr.Cause,
			"peer_id", tr.To.PeerID(),
		)
	}
	if tr.Started() {
		m.metrics.ActiveCalls.Add(ctx, 1)
	}
	if tr.Ended() {
		m.metrics.ActiveCalls.Add(ctx, -1)
		if !tr.From.StartTime.IsZero() {
			m.metrics.CallDuration.Record(ctx, m.now().Sub(tr.From.StartTime).Seconds())
		}
	}
}
