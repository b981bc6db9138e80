package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// ImageMetadata is the EXIF summary kept with an asset for display and logging.
type ImageMetadata struct {
	CameraMake  string
	CameraModel string

	DateTaken time.Time
	HasDate   bool

	Latitude  float64
	Longitude float64
	HasGPS    bool
}

// ExtractImageMetadata reads EXIF from in-memory image bytes. Formats
// without EXIF (PNG, GIF) usually return an error; callers treat metadata
// as optional.
func ExtractImageMetadata(data []byte) (*ImageMetadata, error) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	metadata := &ImageMetadata{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}

	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		metadata.DateTaken, metadata.HasDate = exifData.DateTimeOriginal(), true
	case !exifData.CreateDate().IsZero():
		metadata.DateTaken, metadata.HasDate = exifData.CreateDate(), true
	case !exifData.ModifyDate().IsZero():
		metadata.DateTaken, metadata.HasDate = exifData.ModifyDate(), true
	}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		metadata.Latitude = gps.Latitude()
		metadata.Longitude = gps.Longitude()
		metadata.HasGPS = true
	}

	log.Debug().
		Str("camera", metadata.Camera()).
		Bool("has_gps", metadata.HasGPS).
		Bool("has_date", metadata.HasDate).
		Msg("Image metadata extraction complete")

	return metadata, nil
}

// Camera returns "Make Model" with empty parts dropped.
func (m *ImageMetadata) Camera() string {
	return strings.TrimSpace(m.CameraMake + " " + m.CameraModel)
}
