package pipeline

// Outcome is the result of a single pipeline iteration
type Outcome int

const (
	// OutcomeIdle means no topic was pending
	OutcomeIdle Outcome = iota
	// OutcomeQuota means the selected topic's class already has enough stories
	OutcomeQuota
	// OutcomeCreated means a story was persisted and its topic retired
	OutcomeCreated
	// OutcomePoison means the topic produced unusable text and was deleted
	OutcomePoison
	// OutcomeDiscarded means the run's audio was thrown away and the topic kept
	OutcomeDiscarded
	// OutcomeTransient means an external service failed and the topic was kept
	OutcomeTransient
	// OutcomeFatal means the pipeline must stop
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeQuota:
		return "quota"
	case OutcomeCreated:
		return "created"
	case OutcomePoison:
		return "poison"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
