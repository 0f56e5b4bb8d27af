package pgo

// State is the PartitionProducer's connection state (spec.md section 4.1).
// There is one initial state, idle, and no terminal state short of actor
// termination.
type State int8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}
