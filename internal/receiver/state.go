package receiver

// State is the connection manager's lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var stateNames = []string{
	Disconnected.String(),
	Connecting.String(),
	Connected.String(),
	Reconnecting.String(),
}
