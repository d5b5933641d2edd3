package pdfx

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"

	"github.com/ledongthuc/pdf"

	"openshelf/internal/extract"
	"openshelf/pkg/domain"
)

// pageImage is an image XObject lifted out of a page's resource dictionary.
type pageImage struct {
	hash      string
	data      []byte
	mediaType string
	ext       string
}

// path is the stable intra-book address the SVG payload uses to reference
// the image before rewriting resolves it to a resource id.
func (p pageImage) path() string {
	return fmt.Sprintf("images/%s%s", p.hash[:16], p.ext)
}

// extractPageImages pulls image XObjects from one page. DCTDecode streams
// are JPEG files already and are stored verbatim; flate-compressed raw
// samples are re-encoded as PNG when the color space is simple enough.
// Everything else is skipped with a warning, never a hard failure.
func extractPageImages(page pdf.Page, pageNum int) ([]pageImage, []domain.Warning) {
	var images []pageImage
	var warnings []domain.Warning

	xobjs := pageXObjects(page)
	if xobjs.Kind() != pdf.Dict {
		return nil, nil
	}
	names := xobjs.Keys()
	sort.Strings(names)
	for _, name := range names {
		obj := xobjs.Key(name)
		if obj.Key("Subtype").Name() != "Image" {
			continue
		}
		img, err := decodeImageObject(obj)
		if err != nil {
			warnings = append(warnings, domain.Warning{
				Kind:   domain.WarnPageRenderFailed,
				Detail: fmt.Sprintf("page %d image %s: %v", pageNum, name, err),
			})
			continue
		}
		images = append(images, img)
	}
	return images, warnings
}

func pageXObjects(page pdf.Page) (v pdf.Value) {
	defer func() { recover() }()
	return page.Resources().Key("XObject")
}

// decodeImageObject turns one image XObject into storable bytes. The stream
// reader only understands flate compression, so JPEG and JBIG2 payloads are
// reported as errors and skipped by the caller.
func decodeImageObject(obj pdf.Value) (pageImage, error) {
	if hasFilter(obj, "DCTDecode") {
		return pageImage{}, fmt.Errorf("DCTDecode stream not decodable")
	}
	data, err := rawStream(obj)
	if err != nil {
		return pageImage{}, err
	}
	encoded, err := encodeSamples(obj, data)
	if err != nil {
		return pageImage{}, err
	}
	return newPageImage(encoded, "image/png", ".png"), nil
}

func newPageImage(data []byte, mediaType, ext string) pageImage {
	sum := sha256.Sum256(data)
	return pageImage{
		hash:      hex.EncodeToString(sum[:]),
		data:      data,
		mediaType: mediaType,
		ext:       ext,
	}
}

// hasFilter reports whether the stream's Filter entry names filter, either
// directly or inside a filter array.
func hasFilter(obj pdf.Value, filter string) bool {
	f := obj.Key("Filter")
	switch f.Kind() {
	case pdf.Name:
		return f.Name() == filter
	case pdf.Array:
		for i := 0; i < f.Len(); i++ {
			if f.Index(i).Name() == filter {
				return true
			}
		}
	}
	return false
}

// rawStream reads a stream's decoded bytes. The underlying reader panics on
// filters it cannot apply; the panic is surfaced as an error.
func rawStream(obj pdf.Value) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read stream: %v", r)
		}
	}()
	r := obj.Reader()
	defer r.Close()
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return data, nil
}

// encodeSamples converts decoded raw samples to PNG. Only 8-bit DeviceRGB
// and DeviceGray are handled; other color spaces are not worth guessing at.
func encodeSamples(obj pdf.Value, data []byte) ([]byte, error) {
	width := int(obj.Key("Width").Int64())
	height := int(obj.Key("Height").Int64())
	bits := int(obj.Key("BitsPerComponent").Int64())
	space := obj.Key("ColorSpace").Name()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if bits != 8 {
		return nil, fmt.Errorf("unsupported bit depth %d", bits)
	}

	switch space {
	case "DeviceRGB":
		if len(data) < width*height*3 {
			return nil, fmt.Errorf("short sample data for %dx%d rgb", width, height)
		}
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				off := (y*width + x) * 3
				img.SetNRGBA(x, y, color.NRGBA{R: data[off], G: data[off+1], B: data[off+2], A: 0xff})
			}
		}
		return encodePNG(img)
	case "DeviceGray":
		if len(data) < width*height {
			return nil, fmt.Errorf("short sample data for %dx%d gray", width, height)
		}
		img := image.NewGray(image.Rect(0, 0, width, height))
		copy(img.Pix, data[:width*height])
		return encodePNG(img)
	default:
		return nil, fmt.Errorf("unsupported color space %q", space)
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// imageSet deduplicates extracted images across pages by content hash.
type imageSet struct {
	order []string
	byID  map[string]*extract.RawResource
}

func newImageSet() *imageSet {
	return &imageSet{byID: make(map[string]*extract.RawResource)}
}

func (s *imageSet) add(img pageImage) {
	key := img.path()
	if _, ok := s.byID[key]; ok {
		return
	}
	s.order = append(s.order, key)
	s.byID[key] = &extract.RawResource{
		OriginalPath: key,
		MediaType:    img.mediaType,
		Data:         img.data,
	}
}

func (s *imageSet) resources() []extract.RawResource {
	out := make([]extract.RawResource, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.byID[key])
	}
	return out
}
