package workflow

import "fmt"

// State is the read state of a session.
type State int

const (
	// Idle waits for a marker line.
	Idle State = iota
	// MessagePending expects the data line of a Message event.
	MessagePending
	// InterruptPending expects the data line of an Interrupt event.
	InterruptPending
)

func (s State) String() string {
	switch s {
	case MessagePending:
		return "message-pending"
	case InterruptPending:
		return "interrupt-pending"
	default:
		return "idle"
	}
}

// ResumeToken identifies the checkpoint a workflow is resumed from.
type ResumeToken struct {
	EventID       string
	InterruptType int
}

func (t ResumeToken) String() string {
	return fmt.Sprintf("event %s type %d", t.EventID, t.InterruptType)
}

// Session is one child process of a run. A resume replaces the session.
type Session struct {
	WorkflowID string
	// Resume is nil for the initial session.
	Resume *ResumeToken
	// Resumes counts the sessions launched before this one.
	Resumes int
	Stream  Stream
	State   State
}
