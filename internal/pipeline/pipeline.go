// Package pipeline runs the full ingest sequence: format detection,
// extraction, image optimization, reference rewriting, validation and
// atomic publication of the finished package.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"openshelf/internal/detect"
	"openshelf/internal/extract"
	"openshelf/internal/extract/epub"
	"openshelf/internal/extract/pdfx"
	"openshelf/internal/imgopt"
	"openshelf/internal/pkgstore"
	"openshelf/internal/publock"
	"openshelf/internal/rewrite"
	"openshelf/pkg/domain"
)

// Pipeline ingests source files into published book packages.
type Pipeline struct {
	store *pkgstore.Store
	lock  publock.Locker
	opt   *imgopt.Optimizer
}

// New builds a Pipeline. A nil locker gets an in-process one.
func New(store *pkgstore.Store, lock publock.Locker, opt *imgopt.Optimizer) *Pipeline {
	if lock == nil {
		lock = publock.NewMemory()
	}
	if opt == nil {
		opt = imgopt.New(0)
	}
	return &Pipeline{store: store, lock: lock, opt: opt}
}

// Ingest parses the file at path and publishes it under bookID. sourceName
// is the original upload file name, kept for display. The published book is
// returned.
func (p *Pipeline) Ingest(ctx context.Context, path, bookID, sourceName string) (domain.Book, error) {
	start := time.Now()

	format, err := detect.Detect(path)
	if err != nil {
		return domain.Book{}, err
	}

	var src extract.Source
	switch format {
	case domain.FormatEPUB:
		src = epub.NewSource(path)
	case domain.FormatPDF:
		src = pdfx.NewSource(path)
	default:
		return domain.Book{}, fmt.Errorf("format %q: %w", format, domain.ErrUnsupportedFormat)
	}

	inter, err := src.Extract(ctx)
	if err != nil {
		return domain.Book{}, fmt.Errorf("extract %s: %w", format, err)
	}
	p.opt.Apply(inter.Resources)
	result := rewrite.Apply(inter)

	book := inter.Book
	book.ID = bookID
	book.SourceName = sourceName
	book.SectionCount = len(result.Sections)
	book.Warnings = result.Warnings
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now().UTC()
	}
	for i := range result.Sections {
		result.Sections[i].BookID = bookID
	}

	if err := validate(&book, result); err != nil {
		return domain.Book{}, fmt.Errorf("ingest %s: %w", bookID, err)
	}

	release, err := p.lock.Acquire(ctx, bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("ingest %s: %w", bookID, err)
	}
	defer release()

	pkg := &pkgstore.Package{
		Book:     book,
		Sections: result.Sections,
		TOC:      result.TOC,
	}
	for _, res := range result.Resources {
		pkg.Resources = append(pkg.Resources, pkgstore.ResourceData{Meta: res.Resource, Data: res.Data})
	}
	if err := p.store.Publish(pkg); err != nil {
		return domain.Book{}, fmt.Errorf("ingest %s: %w", bookID, err)
	}

	slog.Info("book ingested",
		"book_id", bookID,
		"format", format,
		"sections", book.SectionCount,
		"resources", len(pkg.Resources),
		"warnings", len(book.Warnings),
		"duration", time.Since(start).Round(time.Millisecond))
	return book, nil
}

// validate enforces the structural invariants every published package must
// hold. A violation here is a bug in an extractor or the rewriter, so it
// fails the ingest rather than publishing a broken book.
func validate(book *domain.Book, result *rewrite.Result) error {
	count := len(result.Sections)
	if count == 0 {
		return domain.ErrEmptyBook
	}
	seenIDs := make(map[string]bool, count)
	for i, sec := range result.Sections {
		if sec.Index != i {
			return fmt.Errorf("section %d carries index %d", i, sec.Index)
		}
		if sec.ID != "" {
			if seenIDs[sec.ID] {
				return fmt.Errorf("duplicate section id %q", sec.ID)
			}
			seenIDs[sec.ID] = true
		}
		if sec.Parent >= sec.Index {
			return fmt.Errorf("section %d has non-lower parent %d", i, sec.Parent)
		}
		if sec.Parent < -1 {
			return fmt.Errorf("section %d has invalid parent %d", i, sec.Parent)
		}
	}
	if err := validateTOC(result.TOC, count, 0); err != nil {
		return err
	}
	for _, res := range result.Resources {
		if res.ID == "" || res.StoredName == "" {
			return fmt.Errorf("resource %q not fully resolved", res.OriginalPath)
		}
		for _, idx := range res.Sections {
			if idx < 0 || idx >= count {
				return fmt.Errorf("resource %q references section %d of %d", res.ID, idx, count)
			}
		}
	}
	if book.SectionCount != count {
		return fmt.Errorf("book reports %d sections, have %d", book.SectionCount, count)
	}
	return nil
}

func validateTOC(nodes []domain.TOCNode, count, depth int) error {
	if depth > 32 {
		return fmt.Errorf("toc deeper than %d levels", 32)
	}
	for _, node := range nodes {
		if node.SectionIndex < -1 || node.SectionIndex >= count {
			return fmt.Errorf("toc entry %q targets section %d of %d", node.Title, node.SectionIndex, count)
		}
		if err := validateTOC(node.Children, count, depth+1); err != nil {
			return err
		}
	}
	return nil
}
