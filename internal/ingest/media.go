// Package ingest turns raw image sources into in-memory assets and
// transport-ready payloads.
//
// An Asset owns an opaque handle to its raw bytes and a preview reference
// allocated from a PreviewStore. Encode re-reads the handle on every call,
// so an asset backed by a file that disappears after loading fails at
// encode time rather than silently sending stale bytes.
package ingest

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// SupportedImageExtensions maps file extensions to the MIME types accepted for editing.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// extensionsByMIME is the reverse of SupportedImageExtensions with the
// canonical extension for each type.
var extensionsByMIME = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// ExtensionFor returns the canonical file extension for an image MIME type,
// defaulting to ".png" for unknown types.
func ExtensionFor(mimeType string) string {
	if ext, ok := extensionsByMIME[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return ".png"
}

// DetectMIMEType derives the media type of data. Content sniffing wins over
// the name hint; the extension table covers formats the sniffer does not
// know (HEIC/HEIF). Images the sniffer recognizes but the editor does not
// accept (BMP, ICO) are rejected regardless of the name.
func DetectMIMEType(data []byte, nameHint string) (string, error) {
	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	if _, ok := extensionsByMIME[sniffed]; ok {
		return sniffed, nil
	}
	if strings.HasPrefix(sniffed, "image/") {
		return "", fmt.Errorf("unsupported image type %s", sniffed)
	}

	if mimeType, err := GetMIMEType(filepath.Ext(nameHint)); err == nil {
		return mimeType, nil
	}

	return "", fmt.Errorf("content is not a supported image (detected %s)", sniffed)
}
