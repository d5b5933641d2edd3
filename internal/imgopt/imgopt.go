// Package imgopt downscales extracted raster images so packaged books stay
// small on disk. It never fails an ingest: anything it cannot decode passes
// through untouched.
package imgopt

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"

	"openshelf/internal/extract"
)

// DefaultMaxWidth caps image width when no explicit limit is configured.
const DefaultMaxWidth = 1600

// Optimizer resizes raster resources wider than MaxWidth.
type Optimizer struct {
	MaxWidth int
}

// New returns an Optimizer with the given width cap; zero or negative means
// DefaultMaxWidth.
func New(maxWidth int) *Optimizer {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &Optimizer{MaxWidth: maxWidth}
}

// Apply optimizes every raster resource in place. Non-raster resources and
// undecodable payloads are left untouched.
func (o *Optimizer) Apply(resources []extract.RawResource) {
	for i := range resources {
		res := &resources[i]
		if !isRaster(res.MediaType) {
			continue
		}
		data, err := o.optimize(res.Data, res.MediaType)
		if err != nil {
			slog.Debug("image left unoptimized",
				"path", res.OriginalPath, "error", err)
			continue
		}
		if len(data) > 0 && len(data) < len(res.Data) {
			res.Data = data
		}
	}
}

// optimize returns a resized re-encoding, or nil when the image is already
// within bounds.
func (o *Optimizer) optimize(data []byte, mediaType string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if img.Bounds().Dx() <= o.MaxWidth {
		return nil, nil
	}
	resized := imaging.Resize(img, o.MaxWidth, 0, imaging.Lanczos)
	return encode(resized, mediaType)
}

func encode(img image.Image, mediaType string) ([]byte, error) {
	format := imaging.PNG
	switch mediaType {
	case "image/jpeg":
		format = imaging.JPEG
	case "image/gif":
		format = imaging.GIF
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// isRaster reports whether the media type names a raster format the decoder
// understands. SVG stays textual and is excluded.
func isRaster(mediaType string) bool {
	if !strings.HasPrefix(mediaType, "image/") {
		return false
	}
	switch mediaType {
	case "image/svg+xml", "image/webp":
		return false
	}
	return true
}
