package irc

import "time"

// State is a connection lifecycle state
type State int

const (
	Disconnected State = iota
	Connecting
	Registering
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Registering:
		return "registering"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind identifies what an Event reports
type EventKind int

const (
	// EventAll matches every kind when passed to HandleFunc
	EventAll EventKind = iota
	EventConnect
	EventData
	EventSend
	EventTimeout
	EventEOF
	EventClose
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventAll:
		return "*"
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventSend:
		return "send"
	case EventTimeout:
		return "timeout"
	case EventEOF:
		return "eof"
	case EventClose:
		return "close"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// Event is passed to handlers registered with HandleFunc.
// Line and Message are set for EventData, Line for EventSend,
// State for EventState and Err for EventClose.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Line    string
	Message Message
	State   State
	Err     error
}
