package dispatch

// Outcome is the terminal result of one Notify call.
type Outcome int

const (
	// OutcomeFailed means compose or delivery failed; Notify also returns
	// the error.
	OutcomeFailed Outcome = iota
	// OutcomeDelivered means the broadcast was handed to the push channel.
	OutcomeDelivered
	// OutcomeFiltered means the event filter rejected the event; nothing
	// else ran. This is the common case.
	OutcomeFiltered
	// OutcomeNoRecipients means the roster was empty; the message was built
	// but not sent. "No one registered yet" is a valid steady state.
	OutcomeNoRecipients
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeNoRecipients:
		return "no_recipients"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
