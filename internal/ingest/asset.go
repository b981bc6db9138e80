package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxImageBytes caps the size of an ingested image.
const DefaultMaxImageBytes = 20 << 20

// IngestionError reports that a source could not be turned into an asset.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// EncodingError reports that an asset's bytes could not be read at encode time.
type EncodingError struct {
	Asset string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Asset, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Handle is the opaque reference an asset keeps to its raw bytes.
type Handle interface {
	Read(ctx context.Context) ([]byte, error)
}

type memoryHandle struct {
	data []byte
}

func (h memoryHandle) Read(ctx context.Context) ([]byte, error) {
	return h.data, nil
}

type fileHandle struct {
	path     string
	maxBytes int64
}

func (h fileHandle) Read(ctx context.Context) ([]byte, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return readLimited(f, h.maxBytes)
}

// Asset is an ingested image. Exactly one asset is live per workflow.
type Asset struct {
	Name     string
	MIMEType string
	Size     int64
	Metadata *ImageMetadata
	Preview  PreviewRef

	handle Handle
}

// EncodedPayload is the transport-ready form of an asset.
type EncodedPayload struct {
	MediaType     string
	ContentBase64 string

	data []byte
}

// Bytes returns the decoded content.
func (p EncodedPayload) Bytes() []byte {
	return p.data
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithMaxBytes caps the size of ingested images.
func WithMaxBytes(n int64) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxBytes = n
		}
	}
}

// Ingestor turns sources into assets and assets into payloads.
type Ingestor struct {
	previews PreviewStore
	maxBytes int64
}

// NewIngestor creates an Ingestor that allocates previews from previews.
func NewIngestor(previews PreviewStore, opts ...Option) *Ingestor {
	i := &Ingestor{previews: previews, maxBytes: DefaultMaxImageBytes}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest reads src once and returns a new asset with a freshly allocated
// preview. Every failure is an *IngestionError.
func (i *Ingestor) Ingest(ctx context.Context, src Source) (*Asset, error) {
	name := src.Name()
	start := time.Now()
	log.Debug().Str("source", name).Msg("Ingesting image")

	fail := func(err error) (*Asset, error) {
		return nil, &IngestionError{Source: name, Err: err}
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return fail(err)
	}
	data, err := readLimited(rc, i.maxBytes)
	rc.Close()
	if err != nil {
		return fail(err)
	}
	if len(data) == 0 {
		return fail(errors.New("image is empty"))
	}

	mimeType, err := DetectMIMEType(data, name)
	if err != nil {
		return fail(err)
	}

	preview, err := i.previews.Allocate(name, data, mimeType)
	if err != nil {
		return fail(err)
	}

	asset := &Asset{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Preview:  preview,
		handle:   memoryHandle{data: data},
	}
	if fb, ok := src.(fileBacked); ok {
		asset.handle = fileHandle{path: fb.path(), maxBytes: i.maxBytes}
	}

	if meta, err := ExtractImageMetadata(data); err != nil {
		log.Debug().Err(err).Str("source", name).Msg("No EXIF metadata, continuing without it")
	} else {
		asset.Metadata = meta
	}

	log.Info().
		Str("source", name).
		Str("mime_type", mimeType).
		Int64("size_bytes", asset.Size).
		Str("preview_id", preview.ID).
		Dur("duration", time.Since(start)).
		Msg("Image ingested")

	return asset, nil
}

// Release returns the asset's preview reference to the store.
func (i *Ingestor) Release(asset *Asset) error {
	if asset == nil || asset.Preview.IsZero() {
		return nil
	}
	return i.previews.Release(asset.Preview)
}

// Encode reads the asset's bytes and returns them as base64 content with the
// sniffed media type. Each call performs exactly one read; nothing is cached.
func (i *Ingestor) Encode(ctx context.Context, asset *Asset) (EncodedPayload, error) {
	return Encode(ctx, asset)
}

// Encode is the package-level form of Ingestor.Encode.
func Encode(ctx context.Context, asset *Asset) (EncodedPayload, error) {
	if asset == nil || asset.handle == nil {
		return EncodedPayload{}, &EncodingError{Asset: "<none>", Err: errors.New("no asset")}
	}

	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		data, err := asset.handle.Read(ctx)
		done <- readResult{data: data, err: err}
	}()

	var res readResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return EncodedPayload{}, &EncodingError{Asset: asset.Name, Err: ctx.Err()}
	}
	if res.err != nil {
		return EncodedPayload{}, &EncodingError{Asset: asset.Name, Err: res.err}
	}
	if len(res.data) == 0 {
		return EncodedPayload{}, &EncodingError{Asset: asset.Name, Err: errors.New("image is empty")}
	}

	mimeType, err := DetectMIMEType(res.data, asset.Name)
	if err != nil {
		return EncodedPayload{}, &EncodingError{Asset: asset.Name, Err: err}
	}

	return NewEncodedPayload(mimeType, res.data), nil
}

// NewEncodedPayload wraps already-read image bytes.
func NewEncodedPayload(mimeType string, data []byte) EncodedPayload {
	return EncodedPayload{
		MediaType:     mimeType,
		ContentBase64: base64.StdEncoding.EncodeToString(data),
		data:          data,
	}
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	return data, nil
}
