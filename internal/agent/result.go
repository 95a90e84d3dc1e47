package agent

// failedResponse is the ai_response of a failed attempt's audit row.
const failedResponse = "FAILED"

// FailureKind names the step an attempt failed in.
type FailureKind int

const (
	FailurePlan FailureKind = iota + 1
	FailureSafety
	FailureExecution
	FailureSynthesis
)

func (k FailureKind) String() string {
	switch k {
	case FailurePlan:
		return "plan"
	case FailureSafety:
		return "safety"
	case FailureExecution:
		return "execution"
	case FailureSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

type failure struct {
	kind FailureKind
	err  error
}

// Error is the text fed back to the planner and stored in the audit row.
func (f *failure) Error() string {
	return f.err.Error()
}

// attemptResult is the outcome of one attempt: an answer when failure is nil.
type attemptResult struct {
	plan       Plan
	toolOutput string
	answer     string
	failure    *failure
}

func failed(kind FailureKind, err error) attemptResult {
	return attemptResult{failure: &failure{kind: kind, err: err}}
}
