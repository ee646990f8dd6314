package lifecycle

// State is a lifecycle state of a Service.
//
// Services move forward only: New, Starting, Running, Stopping, Terminated.
// Failed is reachable from Starting, Running or Stopping. Terminated and
// Failed are terminal.
type State int32

const (
	New State = iota
	Starting
	Running
	Stopping
	Terminated
	Failed
)

// States lists every state in lifecycle order.
var States = []State{New, Starting, Running, Stopping, Terminated, Failed}

func (s State) String() string {
	switch s {
	case New:
		return "NEW"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Terminated:
		return "TERMINATED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool { return s == Terminated || s == Failed }

// CanTransition reports whether the lifecycle graph has an edge from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case New:
		return next == Starting || next == Terminated
	case Starting:
		return next == Running || next == Failed
	case Running:
		return next == Stopping || next == Failed
	case Stopping:
		return next == Terminated || next == Failed
	default:
		return false
	}
}
