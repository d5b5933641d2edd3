// Package pdfx extracts a PDF document into the unified intermediate
// representation. Every page becomes one section whose payload is an SVG
// fragment with positioned, selectable text runs; embedded images become
// extracted resources referenced from the fragment.
package pdfx

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"openshelf/internal/extract"
	"openshelf/pkg/domain"
)

// extractWorkers bounds parallel per-page rendering.
const extractWorkers = 4

// fallbackTOCStride is the page interval for the flat fallback TOC used when
// a document carries no outline.
const fallbackTOCStride = 10

// Source extracts one PDF file. It implements extract.Source.
type Source struct {
	path string
}

// NewSource returns a Source over the PDF file at path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Format implements extract.Source.
func (s *Source) Format() domain.Format { return domain.FormatPDF }

// pageResult is the outcome of rendering a single page.
type pageResult struct {
	section  extract.RawSection
	images   []pageImage
	warnings []domain.Warning
}

// Extract renders every page in document order. Rendering is parallel but
// results are slotted by page index, so section order is derived from source
// order, never from completion order. A failing page yields a placeholder
// section and a warning; a document with zero pages is a hard failure.
func (s *Source) Extract(ctx context.Context) (*extract.Intermediate, error) {
	f, reader, err := pdf.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", s.path, err)
	}
	defer f.Close()

	total := reader.NumPage()
	if total <= 0 {
		return nil, fmt.Errorf("document reports zero pages: %w", domain.ErrEmptyBook)
	}

	inter := &extract.Intermediate{
		Book: s.bookMetadata(reader),
	}

	results := make([]pageResult, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractWorkers)
	for i := 1; i <= total; i++ {
		pageNum := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[pageNum-1] = renderPage(reader, pageNum)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dedup := newImageSet()
	for i := range results {
		res := &results[i]
		res.section.Index = i
		inter.Sections = append(inter.Sections, res.section)
		inter.Warnings = append(inter.Warnings, res.warnings...)
		for _, img := range res.images {
			dedup.add(img)
		}
	}
	inter.Resources = dedup.resources()

	toc, warns := extractOutline(reader, total)
	inter.Warnings = append(inter.Warnings, warns...)
	if len(toc) == 0 {
		toc = fallbackTOC(total)
	}
	inter.TOC = toc

	return inter, nil
}

// renderPage produces the SVG payload for one page. The underlying content
// stream interpreter panics on corrupt streams, so the whole render is
// recovered into a placeholder section.
func renderPage(reader *pdf.Reader, pageNum int) (res pageResult) {
	id := pageID(pageNum)
	res.section = extract.RawSection{
		ID:    id,
		Path:  id,
		Title: fmt.Sprintf("Page %d", pageNum),
	}

	defer func() {
		if r := recover(); r != nil {
			res.section.Content = placeholderSVG(pageNum)
			res.warnings = append(res.warnings, domain.Warning{
				Kind:   domain.WarnPageRenderFailed,
				Detail: fmt.Sprintf("page %d: %v", pageNum, r),
			})
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		res.section.Content = placeholderSVG(pageNum)
		res.warnings = append(res.warnings, domain.Warning{
			Kind:   domain.WarnPageRenderFailed,
			Detail: fmt.Sprintf("page %d: missing page object", pageNum),
		})
		return res
	}

	images, imgWarns := extractPageImages(page, pageNum)
	res.warnings = append(res.warnings, imgWarns...)
	res.images = images

	svg, text := renderSVG(page, images)
	res.section.Content = svg
	res.section.Text = text
	for _, img := range images {
		res.section.Refs = append(res.section.Refs, extract.RawRef{
			Kind:   extract.RefImage,
			Target: img.path(),
		})
	}
	return res
}

func pageID(pageNum int) string {
	return fmt.Sprintf("page_%d", pageNum)
}

// fallbackTOC lists every tenth page so large unoutlined documents stay
// navigable.
func fallbackTOC(total int) []extract.RawTOCEntry {
	var entries []extract.RawTOCEntry
	for i := 1; i <= total; i += fallbackTOCStride {
		entries = append(entries, extract.RawTOCEntry{
			Title: fmt.Sprintf("Page %d", i),
			Path:  pageID(i),
		})
	}
	return entries
}

func (s *Source) bookMetadata(reader *pdf.Reader) domain.Book {
	book := domain.Book{
		Format:    domain.FormatPDF,
		Language:  "en",
		CreatedAt: time.Now().UTC(),
	}
	info := trailerInfo(reader)
	book.Title = info["Title"]
	if book.Title == "" {
		base := filepath.Base(s.path)
		book.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if author := info["Author"]; author != "" {
		book.Authors = []string{author}
	}
	book.Description = info["Subject"]
	book.Publisher = info["Producer"]
	book.Date = info["CreationDate"]
	if kw := info["Keywords"]; kw != "" {
		for _, part := range strings.Split(kw, ",") {
			if s := strings.TrimSpace(part); s != "" {
				book.Subjects = append(book.Subjects, s)
			}
		}
	}
	return book
}

// trailerInfo reads the document information dictionary. Malformed trailers
// panic inside the pdf library; metadata is best-effort, so recover to an
// empty map.
func trailerInfo(reader *pdf.Reader) (out map[string]string) {
	out = make(map[string]string)
	defer func() { recover() }()

	info := reader.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return out
	}
	keys := info.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		v := info.Key(key)
		if v.Kind() == pdf.String {
			out[key] = strings.TrimSpace(v.Text())
		}
	}
	return out
}
