package call

import "time"

// Status is the coarse call lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusIncoming Status = "incoming"
	StatusOngoing  Status = "ongoing"
)

// Peer identifies the remote party. Name may be empty until the directory
// has resolved it.
type Peer struct {
	ID   string
	Name string
}

// State is a snapshot of the call. Peer is nil when idle; StartTime is zero
// unless Status is ongoing.
type State struct {
	Status    Status
	Peer      *Peer
	StartTime time.Time
}

// PeerID returns the peer identifier or "" when no peer is set.
func (s State) PeerID() string {
	if s.Peer == nil {
		return ""
	}
	return s.Peer.ID
}

// clone returns a deep copy so snapshots never alias the machine's state.
func (s State) clone() State {
	if s.Peer != nil {
		p := *s.Peer
		s.Peer = &p
	}
	return s
}

// Cause names the event behind a [Transition].
type Cause string

const (
	CausePlaceCall        Cause = "place_call"
	CauseIncomingCall     Cause = "incoming_call"
	CauseAccept           Cause = "accept"
	CauseReject           Cause = "reject"
	CauseHangUp           Cause = "hang_up"
	CauseCallAccepted     Cause = "call_accepted"
	CauseConnectionClosed Cause = "connection_closed"
	CausePeerName         Cause = "peer_name"
)

// Transition is one applied state change.
type Transition struct {
	From  State
	To    State
	Cause Cause
}

// Ended reports whether the transition left a call that had reached ongoing.
func (t Transition) Ended() bool {
	return t.From.Status == StatusOngoing && t.To.Status == StatusIdle
}

// Started reports whether the transition entered ongoing.
func (t Transition) Started() bool {
	return t.From.Status != StatusOngoing && t.To.Status == StatusOngoing
}
