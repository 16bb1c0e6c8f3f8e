// ABOUTME: Verification session states and the legal transitions between them
// ABOUTME: Terminal states absorb all further transitions

package verify

// State is the operator-visible phase of a verification session.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateKeyExchanged
	StateMacExchanged
	StateVerified
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateKeyExchanged:
		return "key-exchanged"
	case StateMacExchanged:
		return "mac-exchanged"
	case StateVerified:
		return "verified"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session is finished.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateCancelled
}
