package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultFetchTimeout bounds a remote fetch when the caller supplies no client.
const DefaultFetchTimeout = 30 * time.Second

// Source is a raw binary image source.
type Source interface {
	// Name is a filename hint used for type detection and suggested filenames.
	Name() string
	// Open starts reading the raw bytes.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// fileBacked is implemented by sources whose bytes can be re-read later.
type fileBacked interface {
	path() string
}

// FileSource reads an image from the local filesystem.
type FileSource struct {
	Path string
}

// NewFileSource returns a source for the file at p.
func NewFileSource(p string) *FileSource {
	return &FileSource{Path: p}
}

func (s *FileSource) Name() string { return filepath.Base(s.Path) }

func (s *FileSource) path() string { return s.Path }

func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", s.Path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", s.Path)
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// URLSource fetches an image over HTTP(S).
type URLSource struct {
	URL    string
	Client *http.Client
}

// NewURLSource returns a source for rawURL. A nil client gets a default one
// with DefaultFetchTimeout.
func NewURLSource(rawURL string, client *http.Client) *URLSource {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &URLSource{URL: rawURL, Client: client}
}

// Name returns the last path segment of the URL, or "image" when there is none.
func (s *URLSource) Name() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "image"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "image"
	}
	return base
}

func (s *URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	log.Debug().Str("url", s.URL).Msg("Fetching remote image")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// BytesSource wraps bytes that are already in memory, such as an upload.
type BytesSource struct {
	Filename string
	Data     []byte
}

// NewBytesSource returns a source over data with a filename hint.
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{Filename: name, Data: data}
}

// NewBase64Source decodes base64 content, tolerating a leading
// "data:<type>;base64," prefix.
func NewBase64Source(name, content string) (*BytesSource, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "data:") {
		i := strings.Index(content, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		content = content[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return NewBytesSource(name, data), nil
}

func (s *BytesSource) Name() string {
	if s.Filename == "" {
		return "image"
	}
	return s.Filename
}

func (s *BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}
