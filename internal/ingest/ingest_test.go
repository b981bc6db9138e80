package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// declaredPNG returns a 1x1 PNG whose header claims w x h pixels.
func declaredPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	data := buf.Bytes()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc over type+13 data bytes
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return p
}

func newTestIngestor(t *testing.T, opts ...Option) (*Ingestor, *TempPreviewStore) {
	t.Helper()
	store := NewTempPreviewStore(t.TempDir(), 64)
	return NewIngestor(store, opts...), store
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		hint    string
		want    string
		wantErr bool
	}{
		{name: "PNG content", data: pngBytes(t, 2, 2), hint: "photo.jpg", want: "image/png"},
		{name: "JPEG magic", data: []byte("\xFF\xD8\xFF\xE0rest"), hint: "x", want: "image/jpeg"},
		{name: "HEIC by extension", data: []byte("\x00\x00\x00\x18ftypheic"), hint: "IMG_0001.HEIC", want: "image/heic"},
		{name: "Text rejected", data: []byte("hello world"), hint: "notes.txt", wantErr: true},
		{name: "BMP rejected", data: []byte("BM\x36\x00\x00\x00\x00\x00\x00\x00\x36\x00\x00\x00"), hint: "scan.bmp", wantErr: true},
		{name: "ICO rejected", data: []byte("\x00\x00\x01\x00\x01\x00\x10\x10"), hint: "favicon.ico", wantErr: true},
		{name: "BMP content with JPEG name rejected", data: []byte("BM\x36\x00\x00\x00\x00\x00\x00\x00\x36\x00\x00\x00"), hint: "photo.jpg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMIMEType(tt.data, tt.hint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectMIMEType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectMIMEType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/jpeg": ".jpg",
		"image/PNG":  ".png",
		"image/webp": ".webp",
		"text/plain": ".png",
	}
	for mimeType, want := range tests {
		if got := ExtensionFor(mimeType); got != want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", mimeType, got, want)
		}
	}
}

func TestIngestFile(t *testing.T) {
	ing, store := newTestIngestor(t)
	path := writeFile(t, "cat.png", pngBytes(t, 10, 8))

	asset, err := ing.Ingest(context.Background(), NewFileSource(path))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if asset.Name != "cat.png" {
		t.Errorf("Name = %q, want %q", asset.Name, "cat.png")
	}
	if asset.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want %q", asset.MIMEType, "image/png")
	}
	if asset.Preview.IsZero() {
		t.Fatal("Preview is zero")
	}
	if _, err := os.Stat(asset.Preview.Path); err != nil {
		t.Errorf("preview file missing: %v", err)
	}
	if live := store.Live(); len(live) != 1 || live[0].ID != asset.Preview.ID {
		t.Errorf("Live() = %v, want only %s", live, asset.Preview.ID)
	}
}

func TestIngestMissingFile(t *testing.T) {
	ing, store := newTestIngestor(t)

	_, err := ing.Ingest(context.Background(), NewFileSource(filepath.Join(t.TempDir(), "nope.png")))

	var ingErr *IngestionError
	if !errors.As(err, &ingErr) {
		t.Fatalf("Ingest() error = %v, want *IngestionError", err)
	}
	if len(store.Live()) != 0 {
		t.Errorf("Live() = %v, want none", store.Live())
	}
}

func TestIngestURL(t *testing.T) {
	img := pngBytes(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/dog.png":
			w.Write(img)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ing, _ := newTestIngestor(t)

	t.Run("Success", func(t *testing.T) {
		asset, err := ing.Ingest(context.Background(), NewURLSource(srv.URL+"/images/dog.png", srv.Client()))
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if asset.Name != "dog.png" {
			t.Errorf("Name = %q, want %q", asset.Name, "dog.png")
		}
		if asset.Size != int64(len(img)) {
			t.Errorf("Size = %d, want %d", asset.Size, len(img))
		}
	})

	t.Run("Non-success status", func(t *testing.T) {
		_, err := ing.Ingest(context.Background(), NewURLSource(srv.URL+"/missing.png", srv.Client()))
		var ingErr *IngestionError
		if !errors.As(err, &ingErr) {
			t.Fatalf("Ingest() error = %v, want *IngestionError", err)
		}
		if !strings.Contains(ingErr.Error(), "404") {
			t.Errorf("error %q does not mention status 404", ingErr.Error())
		}
	})
}

func TestIngestRejectsNonImage(t *testing.T) {
	ing, _ := newTestIngestor(t)

	_, err := ing.Ingest(context.Background(), NewBytesSource("notes.txt", []byte("just text")))

	var ingErr *IngestionError
	if !errors.As(err, &ingErr) {
		t.Fatalf("Ingest() error = %v, want *IngestionError", err)
	}
}

func TestIngestRejectsOversized(t *testing.T) {
	data := pngBytes(t, 16, 16)
	ing, _ := newTestIngestor(t, WithMaxBytes(int64(len(data)-1)))

	_, err := ing.Ingest(context.Background(), NewBytesSource("big.png", data))

	var ingErr *IngestionError
	if !errors.As(err, &ingErr) {
		t.Fatalf("Ingest() error = %v, want *IngestionError", err)
	}
}

func TestEncode(t *testing.T) {
	data := pngBytes(t, 6, 6)
	ing, _ := newTestIngestor(t)
	asset, err := ing.Ingest(context.Background(), NewBytesSource("a.png", data))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	payload, err := ing.Encode(context.Background(), asset)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if payload.MediaType != "image/png" {
		t.Errorf("MediaType = %q, want %q", payload.MediaType, "image/png")
	}
	if strings.HasPrefix(payload.ContentBase64, "data:") || strings.Contains(payload.ContentBase64, ",") {
		t.Errorf("ContentBase64 carries a transport prefix: %.30q", payload.ContentBase64)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload.ContentBase64)
	if err != nil {
		t.Fatalf("DecodeString() error = %v", err)
	}
	if !bytes.Equal(decoded, data) || !bytes.Equal(payload.Bytes(), data) {
		t.Error("payload bytes differ from source bytes")
	}
}

func TestEncodeRereadsFile(t *testing.T) {
	ing, _ := newTestIngestor(t)
	path := writeFile(t, "a.png", pngBytes(t, 3, 3))
	asset, err := ing.Ingest(context.Background(), NewFileSource(path))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	_, err = ing.Encode(context.Background(), asset)
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("Encode() error = %v, want *EncodingError", err)
	}
}

func TestEncodeNilAsset(t *testing.T) {
	_, err := Encode(context.Background(), nil)
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("Encode(nil) error = %v, want *EncodingError", err)
	}
}

func TestReleasePreview(t *testing.T) {
	ing, store := newTestIngestor(t)
	asset, err := ing.Ingest(context.Background(), NewBytesSource("a.png", pngBytes(t, 3, 3)))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if err := ing.Release(asset); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(asset.Preview.Path); !os.IsNotExist(err) {
		t.Errorf("preview file still exists after Release (stat err = %v)", err)
	}
	if len(store.Live()) != 0 {
		t.Errorf("Live() = %v, want none", store.Live())
	}
	if err := ing.Release(asset); err == nil {
		t.Error("second Release() error = nil, want error")
	}
}

func TestPreviewIsDownscaled(t *testing.T) {
	store := NewTempPreviewStore(t.TempDir(), 32)
	ref, err := store.Allocate("wide.png", pngBytes(t, 128, 64), "image/png")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 16 {
		t.Errorf("preview size = %dx%d, want 32x16", cfg.Width, cfg.Height)
	}
}

func TestPreviewKeepsUndecodableBytes(t *testing.T) {
	store := NewTempPreviewStore(t.TempDir(), 32)
	data := []byte("\x00\x00\x00\x18ftypheic-not-really")
	ref, err := store.Allocate("photo.heic", data, "image/heic")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if ref.MIMEType != "image/heic" {
		t.Errorf("MIMEType = %q, want image/heic", ref.MIMEType)
	}
	got, err := os.ReadFile(ref.Path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("preview bytes differ from original")
	}
}

func TestGenerateThumbnailPixelBudget(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		maxPixels int64
		wantErr   error
	}{
		{name: "Within budget", data: pngBytes(t, 20, 20), maxPixels: DefaultPreviewMaxPixels},
		{name: "Small image over tight budget", data: pngBytes(t, 20, 20), maxPixels: 100, wantErr: ErrTooManyPixels},
		{name: "Declared 16000x16000", data: declaredPNG(t, 16000, 16000), maxPixels: DefaultPreviewMaxPixels, wantErr: ErrTooManyPixels},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := generateThumbnail(tt.data, 32, tt.maxPixels)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("generateThumbnail() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("generateThumbnail() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIngestOversizedDimensionsKeepsOriginal(t *testing.T) {
	ing, store := newTestIngestor(t)
	data := declaredPNG(t, 16000, 16000)

	asset, err := ing.Ingest(context.Background(), NewBytesSource("bomb.png", data))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if asset.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", asset.MIMEType)
	}
	got, err := os.ReadFile(asset.Preview.Path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("preview bytes differ from original, want undecoded original")
	}
	if len(store.Live()) != 1 {
		t.Errorf("Live() = %d previews, want 1", len(store.Live()))
	}
}

func TestNewBase64Source(t *testing.T) {
	data := pngBytes(t, 2, 2)
	raw := base64.StdEncoding.EncodeToString(data)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "Plain", input: raw},
		{name: "Data URL", input: "data:image/png;base64," + raw},
		{name: "Garbage", input: "!!!", wantErr: true},
		{name: "Malformed data URL", input: "data:image/png;base64", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewBase64Source("x.png", tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBase64Source() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !bytes.Equal(src.Data, data) {
				t.Error("decoded bytes differ")
			}
		})
	}
}

func TestURLSourceName(t *testing.T) {
	tests := map[string]string{
		"https://example.com/a/b/cat.jpg": "cat.jpg",
		"https://example.com/":            "image",
		"https://example.com":             "image",
	}
	for u, want := range tests {
		if got := NewURLSource(u, nil).Name(); got != want {
			t.Errorf("NewURLSource(%q).Name() = %q, want %q", u, got, want)
		}
	}
}
