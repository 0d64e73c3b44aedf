package tcpmonitor

// State is the position of a monitor in its connect/probe/reconnect cycle
type State int32

const (
	// Connecting is dialing the target, or waiting to retry after a failed dial
	Connecting State = iota
	// Connected has just established a connection and reports the peer reachable
	Connected
	// Probing writes the liveness sentinel on the established connection
	Probing
	// Disconnecting releases a lost connection before reconnecting
	Disconnecting
	// Terminated is final, reached once the monitor is stopped
	Terminated
)

// String returns the lowercase name of the state
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Probing:
		return "probing"
	case Disconnecting:
		return "disconnecting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
