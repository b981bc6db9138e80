package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fpang/image-edit/internal/config"
	"github.com/fpang/image-edit/internal/gate"
	"github.com/fpang/image-edit/internal/workflow"
)

// recordingSink stands in for the download destination.
type recordingSink struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (s *recordingSink) Save(ctx context.Context, ref workflow.OutputReference, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, filename)
	return s.err
}

func (s *recordingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// hatEditor returns "edited:<instruction>" or fails on "explode".
var hatEditor = workflow.EditorFunc(func(ctx context.Context, req workflow.EditRequest) (workflow.EditResult, error) {
	if req.Instruction == "explode" {
		return workflow.EditResult{}, errors.New("model unavailable")
	}
	return workflow.EditResult{
		Output:    workflow.OutputReference{Data: []byte("edited:" + req.Instruction), MIMEType: "image/png"},
		Narrative: "Added it.",
	}, nil
})

func testConfig() config.Config {
	return config.Config{
		Model:               "test-model",
		PreviewMaxDimension: 16,
		PreviewMaxPixels:    1 << 20,
		MaxImageBytes:       1 << 20,
		FetchTimeout:        5 * time.Second,
		EditTimeout:         5 * time.Second,
		HistorySize:         5,
	}
}

func newTestApp(t *testing.T, sink gate.Sink) *app {
	t.Helper()
	a, err := assemble(testConfig(), hatEditor, sink, "test", false)
	if err != nil {
		t.Fatalf("assemble() error = %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(p, pngBytes(t), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}
