package qchat

import "fmt"

// EventType identifies what a TurnEvent carries.
type EventType int

const (
	// EventText is a fragment of the child's reply, sanitized and filtered,
	// in emission order.
	EventText EventType = iota

	// EventPermission is a permission request. The turn is suspended; the
	// caller must answer via AnswerPermission and continue with
	// ResumeStreaming.
	EventPermission
)

// TurnEvent is one item in the lazy sequence produced by SendAndStream and
// ResumeStreaming. Exactly one of Text or Prompt is meaningful, selected by
// Type.
type TurnEvent struct {
	Type   EventType
	Text   string // text fragment (EventText)
	Prompt string // permission prompt payload (EventPermission)
}

// Decision is the caller's answer to a permission request. The value is the
// literal token written to the child's stdin.
type Decision string

const (
	// DecisionApprove allows the action once.
	DecisionApprove Decision = "y"
	// DecisionDeny rejects the action.
	DecisionDeny Decision = "n"
	// DecisionTrust allows the action and trusts the tool for the rest of
	// the child's session.
	DecisionTrust Decision = "t"
)

// Valid reports whether d is one of the three known decision tokens.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionDeny, DecisionTrust:
		return true
	}
	return false
}

// TurnState describes how the most recent turn (or resume) concluded.
type TurnState int

const (
	// TurnIdle means no turn has run yet on this session.
	TurnIdle TurnState = iota
	// TurnStreaming means a turn is in flight (or its consumer stopped
	// ranging before the turn concluded).
	TurnStreaming
	// TurnDone means the child returned to its idle prompt, or went quiet
	// after producing real output.
	TurnDone
	// TurnSuspended means the child is waiting on a permission decision.
	TurnSuspended
	// TurnTimedOut means the turn deadline elapsed with the child still busy.
	TurnTimedOut
	// TurnErrored means an I/O failure ended the turn. A diagnostic text
	// fragment was emitted before the sequence stopped.
	TurnErrored
)

// String returns a human-readable name for the state.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnStreaming:
		return "streaming"
	case TurnDone:
		return "done"
	case TurnSuspended:
		return "suspended"
	case TurnTimedOut:
		return "timed-out"
	case TurnErrored:
		return "errored"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
