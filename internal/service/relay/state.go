package relay

// State is the lifecycle state of a Session.
type State int32

const (
	// StateConnecting covers prompt generation and the agent dial.
	StateConnecting State = iota
	// StateConfiguring means Settings was sent and the acknowledgement is pending.
	StateConfiguring
	// StateActive forwards frames both ways.
	StateActive
	// StateClosed is the clean terminal state.
	StateClosed
	// StateErrored is the failed terminal state.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is closed or errored.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}
