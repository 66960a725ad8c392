package messaging

// OutcomeKind is the closed set of results a get failure can be classified into
type OutcomeKind int

const (
	// OutcomeNone means there was no failure
	OutcomeNone OutcomeKind = iota
	// OutcomeNoMessageAvailable ends a receive cycle normally
	OutcomeNoMessageAvailable
	// OutcomeFatal requires teardown of the session
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeNoMessageAvailable:
		return "no_message_available"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classification of a broker reason
type Outcome struct {
	Kind   OutcomeKind
	Reason ReasonCode
}

// IsFatal reports whether the outcome requires teardown
func (o Outcome) IsFatal() bool {
	return o.Kind == OutcomeFatal
}

// Classify maps a broker reason to an outcome. Only ReasonNoMessageAvailable
// is soft; every other reason is fatal.
func Classify(reason ReasonCode) Outcome {
	switch reason {
	case ReasonNone:
		return Outcome{Kind: OutcomeNone}
	case ReasonNoMessageAvailable:
		return Outcome{Kind: OutcomeNoMessageAvailable, Reason: reason}
	default:
		return Outcome{Kind: OutcomeFatal, Reason: reason}
	}
}

// ClassifyError classifies the reason carried by err
func ClassifyError(err error) Outcome {
	return Classify(ReasonOf(err))
}
