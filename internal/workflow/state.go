package workflow

import "github.com/fpang/image-edit/internal/ingest"

// Phase identifies which State variant is active.
type Phase int

const (
	// PhaseIdle means no image has been loaded.
	PhaseIdle Phase = iota
	// PhaseReady means an image is loaded and can be submitted.
	PhaseReady
	// PhaseSubmitting means one submission is in flight.
	PhaseSubmitting
	// PhaseSucceeded means the last submission produced a result.
	PhaseSucceeded
	// PhaseFailed means the last submission failed.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReady:
		return "ready"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of the workflow. Only the data belonging to the
// active phase is populated:
//
//	Idle
//	Ready(asset)
//	Submitting(asset, instruction)
//	Succeeded(result)
//	Failed(message)
//
// States are built only through the constructors below, so combinations
// such as "submitting with an error" cannot be expressed.
type State struct {
	phase        Phase
	asset        *ingest.Asset
	instruction  string
	submissionID string
	result       EditResult
	message      string
}

func idleState() State {
	return State{phase: PhaseIdle}
}

func readyState(asset *ingest.Asset) State {
	return State{phase: PhaseReady, asset: asset}
}

func submittingState(asset *ingest.Asset, instruction, submissionID string) State {
	return State{phase: PhaseSubmitting, asset: asset, instruction: instruction, submissionID: submissionID}
}

func succeededState(result EditResult) State {
	return State{phase: PhaseSucceeded, result: result}
}

func failedState(message string) State {
	return State{phase: PhaseFailed, message: message}
}

// Phase returns the active variant.
func (s State) Phase() Phase { return s.phase }

// Asset returns the asset carried by Ready and Submitting.
func (s State) Asset() (*ingest.Asset, bool) {
	return s.asset, s.asset != nil
}

// Instruction returns the instruction carried by Submitting.
func (s State) Instruction() string { return s.instruction }

// SubmissionID returns the ID of the in-flight submission carried by Submitting.
func (s State) SubmissionID() string { return s.submissionID }

// Result returns the result carried by Succeeded.
func (s State) Result() (EditResult, bool) {
	return s.result, s.phase == PhaseSucceeded
}

// Message returns the user-facing failure text carried by Failed.
func (s State) Message() string { return s.message }
