package loop

// OutcomeKind is the final disposition of a run.
type OutcomeKind string

const (
	OutcomeCompletedSuccessfully OutcomeKind = "completed_successfully"
	OutcomeAbortedByReviewer     OutcomeKind = "aborted_by_reviewer"
	OutcomeExhaustedIterations   OutcomeKind = "exhausted_iterations"
	OutcomeFatalError            OutcomeKind = "fatal_error"
)

// Outcome is the terminal result of Engine.Run.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Reason
}

func completed() Outcome { return Outcome{Kind: OutcomeCompletedSuccessfully} }

func abortedByReviewer(reason string) Outcome {
	return Outcome{Kind: OutcomeAbortedByReviewer, Reason: reason}
}

func exhaustedIterations() Outcome { return Outcome{Kind: OutcomeExhaustedIterations} }

func fatalError(reason string) Outcome {
	return Outcome{Kind: OutcomeFatalError, Reason: reason}
}
