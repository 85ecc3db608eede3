package eventbus

// Outcome is the result of delivering one message to a handler.
type Outcome int

const (
	// OutcomeCommitted means the handler succeeded and the offset was committed.
	OutcomeCommitted Outcome = iota
	// OutcomeEmpty means the message had no payload and was skipped.
	OutcomeEmpty
	// OutcomePoison means the payload could not be decoded.
	OutcomePoison
	// OutcomeUnresolved means no handler instance could be resolved.
	OutcomeUnresolved
	// OutcomeFailed means the handler returned an error.
	OutcomeFailed
	// OutcomeCommitFailed means the handler succeeded but the commit did not.
	OutcomeCommitFailed
	// OutcomeDeadLettered means the message exhausted its deliveries and was
	// parked in the dead-letter store, then committed.
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeEmpty:
		return "empty"
	case OutcomePoison:
		return "poison"
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeFailed:
		return "failed"
	case OutcomeCommitFailed:
		return "commit_failed"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Committed reports whether the group's position advanced past the message.
func (o Outcome) Committed() bool {
	return o == OutcomeCommitted || o == OutcomeDeadLettered
}

// Redeliver reports whether the message has to be fetched again.
func (o Outcome) Redeliver() bool {
	switch o {
	case OutcomePoison, OutcomeUnresolved, OutcomeFailed, OutcomeCommitFailed:
		return true
	default:
		return false
	}
}
