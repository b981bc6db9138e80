package workflow

import "time"

// Snapshot is a read-only view of the workflow for front ends.
type Snapshot struct {
	Phase           string         `json:"phase" jsonschema:"idle, ready, submitting, succeeded or failed"`
	SubmissionID    string         `json:"submission_id,omitempty" jsonschema:"identity of the in-flight submission"`
	Instruction     string         `json:"instruction,omitempty" jsonschema:"current instruction text"`
	Message         string         `json:"message,omitempty" jsonschema:"user-facing error message when Failed"`
	Asset           *AssetSummary  `json:"asset,omitempty" jsonschema:"the loaded image, if any"`
	Result          *ResultSummary `json:"result,omitempty" jsonschema:"the edited image, when Succeeded"`
	History         []string       `json:"history" jsonschema:"recent instructions, most recent first"`
	HistorySelected int            `json:"history_selected" jsonschema:"selected history index, -1 when none"`
}

// AssetSummary describes the live asset.
type AssetSummary struct {
	Name      string `json:"name"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Camera    string `json:"camera,omitempty"`
	DateTaken string `json:"date_taken,omitempty" jsonschema:"RFC3339 capture time from EXIF"`
}

// ResultSummary describes the current result without its bytes.
type ResultSummary struct {
	MIMEType  string `json:"mime_type"`
	SizeBytes int    `json:"size_bytes"`
	Narrative string `json:"narrative,omitempty"`
}

// Snapshot returns a consistent view of state, asset and history. The
// ledger is only changed while o.mu is held, so reading it under o.mu sees
// the same moment as the state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	state, asset, instruction := o.state, o.asset, o.instruction
	entries := o.ledger.Entries()
	selected, hasSelection := o.ledger.Selected()
	o.mu.Unlock()

	snap := Snapshot{
		Phase:           state.Phase().String(),
		SubmissionID:    state.SubmissionID(),
		Instruction:     instruction,
		Message:         state.Message(),
		History:         entries,
		HistorySelected: -1,
	}
	if hasSelection {
		snap.HistorySelected = selected
	}
	if asset != nil {
		summary := &AssetSummary{Name: asset.Name, MIMEType: asset.MIMEType, SizeBytes: asset.Size}
		if md := asset.Metadata; md != nil {
			summary.Camera = md.Camera()
			if md.HasDate {
				summary.DateTaken = md.DateTaken.Format(time.RFC3339)
			}
		}
		snap.Asset = summary
	}
	if r, ok := state.Result(); ok {
		snap.Result = &ResultSummary{
			MIMEType:  r.Output.MIMEType,
			SizeBytes: len(r.Output.Data),
			Narrative: r.Narrative,
		}
	}
	return snap
}
