// Package workflow implements the edit workflow: one image, one instruction,
// one in-flight request and one current result at a time.
//
// The Orchestrator owns every piece of mutable state. Its mutex only guards
// memory; whether an operation is allowed is decided by the current phase.
// Completions are matched to the submission that started them, and any
// completion that no longer belongs to the current submission is dropped.
package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fpang/image-edit/internal/history"
	"github.com/fpang/image-edit/internal/ingest"
	"github.com/fpang/image-edit/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultEditTimeout bounds one encode plus service call.
const DefaultEditTimeout = 120 * time.Second

const metricsNamespace = "ImageEdit"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEditTimeout sets the deadline for a submission's encode and service call.
func WithEditTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithIDGenerator replaces the submission ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// Orchestrator sequences ingestion, submission and result handling.
type Orchestrator struct {
	ingester Ingester
	editor   Editor
	ledger   *history.Ledger
	timeout  time.Duration
	newID    func() string

	mu          sync.Mutex
	state       State
	asset       *ingest.Asset
	instruction string
	current     *Submission
}

// New creates an Orchestrator in the Idle state.
func New(ingester Ingester, editor Editor, ledger *history.Ledger, opts ...Option) *Orchestrator {
	if ledger == nil {
		ledger = history.New(history.DefaultCapacity)
	}
	o := &Orchestrator{
		ingester: ingester,
		editor:   editor,
		ledger:   ledger,
		timeout:  DefaultEditTimeout,
		newID:    uuid.NewString,
		state:    idleState(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Asset returns the live asset, if any. The asset survives Succeeded and
// Failed so the same image can be submitted again.
func (o *Orchestrator) Asset() (*ingest.Asset, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.asset, o.asset != nil
}

// Instruction returns the current instruction text.
func (o *Orchestrator) Instruction() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instruction
}

// Result returns the current result when the workflow is Succeeded.
func (o *Orchestrator) Result() (EditResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Result()
}

// History returns the prompt history, most recent first.
func (o *Orchestrator) History() []string {
	return o.ledger.Entries()
}

// HistorySelection returns the index of the displayed history selection.
func (o *Orchestrator) HistorySelection() (int, bool) {
	return o.ledger.Selected()
}

// Ingest loads src and makes it the live asset. The previous asset's preview
// is released, and the instruction, result, error and history selection are
// cleared; history entries are kept. On failure the state is unchanged and
// the *ingest.IngestionError is returned.
func (o *Orchestrator) Ingest(ctx context.Context, src ingest.Source) error {
	o.mu.Lock()
	busy := o.state.phase == PhaseSubmitting
	o.mu.Unlock()
	if busy {
		return ErrBusy
	}

	start := time.Now()
	asset, err := o.ingester.Ingest(ctx, src)
	if err != nil {
		log.Error().Err(err).Str("source", src.Name()).Msg("Image ingestion failed")
		metrics.New(metricsNamespace).
			Dimension("Operation", "ingest").
			Dimension("Outcome", "failed").
			Duration("LatencyMs", time.Since(start)).
			Count("IngestCount").
			Flush()
		return err
	}

	o.mu.Lock()
	if o.state.phase == PhaseSubmitting {
		o.mu.Unlock()
		o.release(asset)
		return ErrBusy
	}
	previous := o.asset
	o.asset = asset
	o.instruction = ""
	o.state = readyState(asset)
	o.ledger.ClearSelection()
	o.mu.Unlock()

	o.release(previous)

	log.Info().
		Str("asset", asset.Name).
		Str("preview_id", asset.Preview.ID).
		Msg("Workflow ready")
	metrics.New(metricsNamespace).
		Dimension("Operation", "ingest").
		Dimension("Outcome", "succeeded").
		Duration("LatencyMs", time.Since(start)).
		Metric("ImageBytes", float64(asset.Size), metrics.UnitBytes).
		Count("IngestCount").
		Flush()

	return nil
}

// SetInstruction replaces the instruction text without submitting it.
func (o *Orchestrator) SetInstruction(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.phase == PhaseSubmitting {
		return ErrBusy
	}
	o.instruction = text
	return nil
}

// SelectHistory copies history entry i into the instruction text and marks
// it as the displayed selection.
func (o *Orchestrator) SelectHistory(i int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.phase == PhaseSubmitting {
		return "", ErrBusy
	}
	value, err := o.ledger.Select(i)
	if err != nil {
		return "", err
	}
	o.instruction = value
	return value, nil
}

// Submit validates instruction, records it in the history and starts the
// encode and service call in the background. Validation failures return a
// *ValidationError and leave the state untouched; a submit while another
// submission is in flight returns ErrBusy.
//
// The background work is detached from ctx's cancellation: once started, a
// submission runs until it completes, fails or times out. A Reset while it
// runs makes its completion a no-op.
func (o *Orchestrator) Submit(ctx context.Context, instruction string) (*Submission, error) {
	value := strings.TrimSpace(instruction)

	o.mu.Lock()
	if o.state.phase == PhaseSubmitting {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	if o.asset == nil {
		o.mu.Unlock()
		return nil, &ValidationError{Reason: ReasonNoImage, Message: MessageNoImage}
	}
	if value == "" {
		o.mu.Unlock()
		return nil, &ValidationError{Reason: ReasonNoInstruction, Message: MessageNoInstruction}
	}

	o.ledger.Record(value)
	sub := newSubmission(o.newID(), value)
	asset := o.asset
	o.current = sub
	o.instruction = value
	o.state = submittingState(asset, value, sub.id)
	o.mu.Unlock()

	log.Info().
		Str("submission_id", sub.id).
		Str("asset", asset.Name).
		Int("instruction_length", len(value)).
		Msg("Submission started")

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	go func() {
		defer cancel()
		o.run(runCtx, sub, asset)
	}()

	return sub, nil
}

func (o *Orchestrator) run(ctx context.Context, sub *Submission, asset *ingest.Asset) {
	start := time.Now()

	payload, err := o.ingester.Encode(ctx, asset)
	if err != nil {
		log.Error().Err(err).Str("submission_id", sub.id).Msg("Failed to encode image")
		o.complete(sub, Outcome{Status: OutcomeFailed, Message: MessageEncoding, Err: err}, start)
		return
	}

	result, err := o.editor.Edit(ctx, EditRequest{Payload: payload, Instruction: sub.instruction})
	if err != nil {
		serviceErr := newServiceError(err)
		log.Error().Err(err).Str("submission_id", sub.id).Msg("Edit service call failed")
		o.complete(sub, Outcome{Status: OutcomeFailed, Message: UserMessage(serviceErr), Err: serviceErr}, start)
		return
	}
	if result.Output.IsZero() {
		serviceErr := newServiceError(errors.New("service returned no image"))
		o.complete(sub, Outcome{Status: OutcomeFailed, Message: MessageService, Err: serviceErr}, start)
		return
	}

	o.complete(sub, Outcome{Status: OutcomeSucceeded, Result: result}, start)
}

// complete applies o to the workflow if sub is still the current submission.
func (o *Orchestrator) complete(sub *Submission, out Outcome, start time.Time) {
	o.mu.Lock()
	if o.current != sub || o.state.phase != PhaseSubmitting || o.state.submissionID != sub.id {
		o.mu.Unlock()
		log.Debug().
			Str("submission_id", sub.id).
			Str("outcome", out.Status.String()).
			Msg("Discarding stale submission completion")
		sub.finish(Outcome{Status: OutcomeDiscarded, Err: out.Err})
		return
	}

	if out.Status == OutcomeSucceeded {
		o.state = succeededState(out.Result)
	} else {
		o.state = failedState(out.Message)
	}
	o.current = nil
	o.mu.Unlock()

	log.Info().
		Str("submission_id", sub.id).
		Str("outcome", out.Status.String()).
		Dur("duration", time.Since(start)).
		Msg("Submission complete")
	metrics.New(metricsNamespace).
		Dimension("Operation", "edit").
		Dimension("Outcome", out.Status.String()).
		Duration("LatencyMs", time.Since(start)).
		Metric("OutputBytes", float64(len(out.Result.Output.Data)), metrics.UnitBytes).
		Count("EditCount").
		Property("submissionId", sub.id).
		Flush()

	sub.finish(out)
}

// Reset returns the workflow to Idle, releasing the preview and clearing the
// asset, instruction, result, error and history. An in-flight submission
// keeps running but its completion is discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	previous := o.asset
	inflight := o.current
	o.asset = nil
	o.instruction = ""
	o.current = nil
	o.state = idleState()
	o.ledger.Clear()
	o.mu.Unlock()

	o.release(previous)

	evt := log.Info()
	if inflight != nil {
		evt = evt.Str("abandoned_submission_id", inflight.id)
	}
	evt.Msg("Workflow reset")
}

// Close releases the live preview. The orchestrator is Idle afterwards.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	previous := o.asset
	o.asset = nil
	o.current = nil
	o.state = idleState()
	o.mu.Unlock()

	if previous == nil {
		return nil
	}
	return o.ingester.Release(previous)
}

func (o *Orchestrator) release(asset *ingest.Asset) {
	if asset == nil {
		return
	}
	if err := o.ingester.Release(asset); err != nil {
		log.Warn().Err(err).Str("preview_id", asset.Preview.ID).Msg("Failed to release preview")
	}
}
