// Package gate holds an edited image between "the user wants the file" and
// "the file is handed over". A release must be requested, must pass through
// an acknowledgment step, and is then delivered to a Sink exactly once.
package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/image-edit/internal/ingest"
	"github.com/fpang/image-edit/internal/metrics"
	"github.com/fpang/image-edit/internal/workflow"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoResult is returned when a release is requested without a succeeded result.
	ErrNoResult = errors.New("gate: no result to release")
	// ErrPending is returned when a release is already waiting for acknowledgment.
	ErrPending = errors.New("gate: a download is already pending")
	// ErrNothingPending is returned by Acknowledge when no release was requested.
	ErrNothingPending = errors.New("gate: nothing pending")
	// ErrDeclined is returned when the acknowledgment step is declined.
	ErrDeclined = errors.New("gate: download declined")
	// ErrSuperseded is returned when the reference is no longer the
	// workflow's current result.
	ErrSuperseded = errors.New("gate: result has been superseded")
)

// ResultSource reports the current succeeded result. *workflow.Orchestrator implements it.
type ResultSource interface {
	Result() (workflow.EditResult, bool)
}

// Sink performs the actual save. Failures are reported to the user as a
// notification only; the gate never retries.
type Sink interface {
	Save(ctx context.Context, ref workflow.OutputReference, filename string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ref workflow.OutputReference, filename string) error

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, ref workflow.OutputReference, filename string) error {
	return f(ctx, ref, filename)
}

// Interstitial is the acknowledgment step. It returns true when the user
// confirmed the download.
type Interstitial interface {
	Present(ctx context.Context, filename string) (bool, error)
}

// Option configures a Gate.
type Option func(*Gate)

// WithNotifier sets where sink failures are reported.
func WithNotifier(n Notifier) Option {
	return func(g *Gate) {
		if n != nil {
			g.notifier = n
		}
	}
}

// WithClock replaces the clock used for suggested filenames.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

type pendingDownload struct {
	ref      workflow.OutputReference
	filename string
}

// Gate is the single-slot download gate. A release only ever delivers the
// workflow's current result: RequestRelease rejects any other reference, and
// Acknowledge drops a pending download whose result was replaced or reset in
// the meantime. Front ends may still call Cancel when they supersede a result
// so the slot is free immediately.
type Gate struct {
	results  ResultSource
	sink     Sink
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	pending *pendingDownload
}

// New creates a Gate that releases to sink.
func New(results ResultSource, sink Sink, opts ...Option) *Gate {
	g := &Gate{
		results:  results,
		sink:     sink,
		notifier: LogNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SuggestedFilename names a download after its type and the time it was requested.
func SuggestedFilename(mimeType string, t time.Time) string {
	return "edited-image-" + t.UTC().Format("20060102-150405") + ingest.ExtensionFor(mimeType)
}

// RequestRelease stores ref as the pending download. It does nothing and
// returns ErrNoResult when the workflow has no succeeded result,
// ErrSuperseded when ref is not that result, and ErrPending when a download
// is already waiting.
func (g *Gate) RequestRelease(ref workflow.OutputReference) (string, error) {
	current, ok := g.results.Result()
	if !ok || ref.IsZero() {
		return "", ErrNoResult
	}
	if !sameOutput(current.Output, ref) {
		return "", ErrSuperseded
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		return "", ErrPending
	}
	g.pending = &pendingDownload{ref: ref, filename: SuggestedFilename(ref.MIMEType, g.now())}

	log.Debug().Str("filename", g.pending.filename).Msg("Download awaiting acknowledgment")
	return g.pending.filename, nil
}

// Pending returns the suggested filename of the pending download, if any.
func (g *Gate) Pending() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return "", false
	}
	return g.pending.filename, true
}

// Acknowledge hands the pending download to the sink and clears the slot.
// The slot is cleared before the sink runs, so a failing sink never leaves
// a download that can be released twice. A sink error wrapping ErrDeclined
// (the user closed a save dialog) is returned without a notification.
func (g *Gate) Acknowledge(ctx context.Context) error {
	g.mu.Lock()
	p := g.pending
	g.pending = nil
	g.mu.Unlock()

	if p == nil {
		return ErrNothingPending
	}
	if current, ok := g.results.Result(); !ok || !sameOutput(current.Output, p.ref) {
		log.Info().Str("filename", p.filename).Msg("Dropping pending download for a superseded result")
		return ErrSuperseded
	}

	start := time.Now()
	err := g.sink.Save(ctx, p.ref, p.filename)

	outcome := "released"
	switch {
	case errors.Is(err, ErrDeclined):
		outcome = "declined"
		log.Info().Str("filename", p.filename).Msg("Save declined by user")
	case err != nil:
		outcome = "sink_failed"
		log.Error().Err(err).Str("filename", p.filename).Msg("Failed to save edited image")
		g.notifier.Notify(fmt.Sprintf("Could not save %s: %v", p.filename, err))
	default:
		log.Info().
			Str("filename", p.filename).
			Int("size_bytes", len(p.ref.Data)).
			Msg("Edited image released")
	}
	metrics.New("ImageEdit").
		Dimension("Operation", "release").
		Dimension("Outcome", outcome).
		Duration("LatencyMs", time.Since(start)).
		Metric("OutputBytes", float64(len(p.ref.Data)), metrics.UnitBytes).
		Count("ReleaseCount").
		Flush()

	if err != nil {
		return fmt.Errorf("save %s: %w", p.filename, err)
	}
	return nil
}

func sameOutput(a, b workflow.OutputReference) bool {
	return a.MIMEType == b.MIMEType && bytes.Equal(a.Data, b.Data)
}

// Cancel clears the pending download without releasing it. It reports
// whether anything was pending.
func (g *Gate) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	had := g.pending != nil
	g.pending = nil
	if had {
		log.Debug().Msg("Pending download cancelled")
	}
	return had
}

// Release runs the whole gate: request, present the interstitial, then
// acknowledge or cancel. A declined interstitial returns ErrDeclined.
func (g *Gate) Release(ctx context.Context, ref workflow.OutputReference, step Interstitial) error {
	filename, err := g.RequestRelease(ref)
	if err != nil {
		return err
	}

	ok, err := step.Present(ctx, filename)
	if err != nil {
		g.Cancel()
		return fmt.Errorf("acknowledgment step failed: %w", err)
	}
	if !ok {
		g.Cancel()
		return ErrDeclined
	}
	return g.Acknowledge(ctx)
}
