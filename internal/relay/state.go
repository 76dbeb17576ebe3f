package relay

// State is a connection lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Role tells which side opened a connection.
type Role int

const (
	// RoleOutbound connections were dialed by this process.
	RoleOutbound Role = iota
	// RoleInbound connections were accepted by this process's relay listener.
	RoleInbound
)

func (r Role) String() string {
	if r == RoleInbound {
		return "inbound"
	}
	return "outbound"
}
