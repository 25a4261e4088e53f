package signaling

// State is the lifecycle state of the channel's current connection.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
