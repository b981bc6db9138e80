package workflow

import "context"

// OutcomeStatus says how a submission ended.
type OutcomeStatus int

const (
	// OutcomeSucceeded means the result was applied to the workflow.
	OutcomeSucceeded OutcomeStatus = iota
	// OutcomeFailed means the failure was applied to the workflow.
	OutcomeFailed
	// OutcomeDiscarded means the submission was no longer current when it
	// completed, so nothing was applied.
	OutcomeDiscarded
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Outcome is what a submission produced.
type Outcome struct {
	Status  OutcomeStatus
	Result  EditResult
	Message string
	Err     error
}

// Submission is the handle for one in-flight edit.
type Submission struct {
	id          string
	instruction string
	done        chan struct{}
	outcome     Outcome
}

func newSubmission(id, instruction string) *Submission {
	return &Submission{id: id, instruction: instruction, done: make(chan struct{})}
}

// ID identifies the submission.
func (s *Submission) ID() string { return s.id }

// Instruction is the trimmed instruction that was submitted.
func (s *Submission) Instruction() string { return s.instruction }

// Done is closed once the submission has completed or been discarded.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Wait blocks until the submission completes or ctx is done.
func (s *Submission) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (s *Submission) finish(o Outcome) {
	s.outcome = o
	close(s.done)
}
