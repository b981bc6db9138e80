package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultPreviewMaxDimension is the maximum width or height of a generated preview.
const DefaultPreviewMaxDimension = 1024

// DefaultPreviewMaxPixels is the largest declared width*height that is
// decoded for a preview. Larger images keep their original bytes.
const DefaultPreviewMaxPixels = 64_000_000

// ErrTooManyPixels is returned when an image declares more pixels than the
// preview budget allows.
var ErrTooManyPixels = errors.New("image exceeds preview pixel budget")

// PreviewRef is a display handle derived from an asset's bytes.
type PreviewRef struct {
	ID       string
	Path     string
	MIMEType string
}

// IsZero reports whether r refers to nothing.
func (r PreviewRef) IsZero() bool {
	return r.ID == ""
}

// PreviewStore allocates and releases preview references.
type PreviewStore interface {
	Allocate(name string, data []byte, mimeType string) (PreviewRef, error)
	Release(ref PreviewRef) error
}

// TempPreviewStore writes previews into a temporary directory and deletes
// them on release.
type TempPreviewStore struct {
	dir          string
	maxDimension int
	maxPixels    int64

	mu   sync.Mutex
	live map[string]PreviewRef
}

// PreviewOption configures a TempPreviewStore.
type PreviewOption func(*TempPreviewStore)

// WithMaxPixels sets the decode budget in pixels.
func WithMaxPixels(n int64) PreviewOption {
	return func(s *TempPreviewStore) {
		if n > 0 {
			s.maxPixels = n
		}
	}
}

// NewTempPreviewStore creates a store rooted at dir ("" means the system
// temp directory). maxDimension < 1 uses DefaultPreviewMaxDimension.
func NewTempPreviewStore(dir string, maxDimension int, opts ...PreviewOption) *TempPreviewStore {
	if maxDimension < 1 {
		maxDimension = DefaultPreviewMaxDimension
	}
	s := &TempPreviewStore{
		dir:          dir,
		maxDimension: maxDimension,
		maxPixels:    DefaultPreviewMaxPixels,
		live:         make(map[string]PreviewRef),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory previews are written to.
func (s *TempPreviewStore) Dir() string {
	return s.dir
}

// Allocate generates a preview for data and registers it as live.
//
// Strategy:
//   - JPEG/PNG/GIF/WebP: decode in pure Go, downscale with CatmullRom, encode as PNG
//   - Anything that cannot be decoded (HEIC/HEIF) or declares more pixels
//     than the budget: keep the original bytes
func (s *TempPreviewStore) Allocate(name string, data []byte, mimeType string) (PreviewRef, error) {
	out, outMIME, method := data, mimeType, "original"
	if thumb, err := generateThumbnail(data, s.maxDimension, s.maxPixels); err != nil {
		log.Debug().Err(err).Str("name", name).Msg("Preview decode failed, keeping original bytes")
	} else {
		out, outMIME, method = thumb, "image/png", "pure-go"
	}

	f, err := os.CreateTemp(s.dir, "preview-*"+ExtensionFor(outMIME))
	if err != nil {
		return PreviewRef{}, fmt.Errorf("failed to create preview file: %w", err)
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		os.Remove(f.Name())
		return PreviewRef{}, fmt.Errorf("failed to write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return PreviewRef{}, fmt.Errorf("failed to close preview: %w", err)
	}

	ref := PreviewRef{ID: uuid.NewString(), Path: f.Name(), MIMEType: outMIME}

	s.mu.Lock()
	s.live[ref.ID] = ref
	s.mu.Unlock()

	log.Debug().
		Str("name", name).
		Str("preview_id", ref.ID).
		Str("method", method).
		Int("output_size", len(out)).
		Msg("Preview allocated")

	return ref, nil
}

// Release deletes the preview file. Releasing a reference that is not live
// is an error.
func (s *TempPreviewStore) Release(ref PreviewRef) error {
	s.mu.Lock()
	_, ok := s.live[ref.ID]
	delete(s.live, ref.ID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("preview %q is not live", ref.ID)
	}
	if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove preview: %w", err)
	}

	log.Debug().Str("preview_id", ref.ID).Msg("Preview released")
	return nil
}

// Live returns the references that have been allocated and not yet released,
// ordered by ID.
func (s *TempPreviewStore) Live() []PreviewRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PreviewRef, 0, len(s.live))
	for _, ref := range s.live {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// generateThumbnail decodes data and returns PNG bytes no larger than
// maxDimension on either side. The header is checked against maxPixels
// before the raster is allocated.
func generateThumbnail(data []byte, maxDimension int, maxPixels int64) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooManyPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxDimension || height > maxDimension {
		if width > height {
			height = height * maxDimension / width
			width = maxDimension
		} else {
			width = width * maxDimension / height
			height = maxDimension
		}
		if width < 1 {
			width = 1
		}
		if height < 1 {
			height = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
