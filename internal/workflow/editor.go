package workflow

import (
	"context"

	"github.com/fpang/image-edit/internal/ingest"
)

// OutputReference is an edited image handed back by the service.
// Data must be treated as read-only once it is part of an EditResult.
type OutputReference struct {
	Data     []byte
	MIMEType string
}

// IsZero reports whether the reference carries no image.
func (r OutputReference) IsZero() bool {
	return len(r.Data) == 0
}

// EditResult is the outcome of one successful submission.
type EditResult struct {
	Output OutputReference
	// Narrative is optional text the service returned alongside the image.
	Narrative string
}

// EditRequest is one call to the transformation service.
type EditRequest struct {
	Payload     ingest.EncodedPayload
	Instruction string
}

// Editor is the transformation service. Implementations make exactly one
// request per call and never retry.
type Editor interface {
	Edit(ctx context.Context, req EditRequest) (EditResult, error)
}

// EditorFunc adapts a function to the Editor interface.
type EditorFunc func(ctx context.Context, req EditRequest) (EditResult, error)

// Edit calls f.
func (f EditorFunc) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	return f(ctx, req)
}

// Ingester loads sources into assets and encodes them for submission.
// *ingest.Ingestor implements it.
type Ingester interface {
	Ingest(ctx context.Context, src ingest.Source) (*ingest.Asset, error)
	Encode(ctx context.Context, asset *ingest.Asset) (ingest.EncodedPayload, error)
	Release(asset *ingest.Asset) error
}
