// Package extract defines the unified intermediate representation shared by
// the EPUB and PDF extractors. Everything downstream of extraction (link
// rewriting, serialization) is format independent and operates only on these
// types.
package extract

import (
	"context"

	"openshelf/pkg/domain"
)

// RefKind classifies a raw intra-book reference found in section content.
type RefKind string

const (
	RefLink       RefKind = "link"
	RefImage      RefKind = "image"
	RefStylesheet RefKind = "stylesheet"
)

// RawRef is a reference as it appeared in the source, before canonical
// address resolution.
type RawRef struct {
	Kind   RefKind
	Target string // original href/src, possibly with a #fragment
}

// RawSection is one extracted section in reading order with its original,
// not-yet-rewritten payload.
type RawSection struct {
	Index   int
	ID      string // spine item id or "page_N"
	Path    string // source-side path: zip href for EPUB, section id for PDF
	Title   string
	Content string // HTML fragment (EPUB) or SVG fragment (PDF)
	Text    string // plain text for search use
	// FragmentIDs are the element ids present in this section, used to
	// resolve anchor targets during rewriting.
	FragmentIDs []string
	Refs        []RawRef
}

// RawTOCEntry is a navigation entry before target resolution. Path refers to
// a RawSection.Path; Fragment optionally targets an anchor inside it.
type RawTOCEntry struct {
	Title    string
	Path     string
	Fragment string
	Children []RawTOCEntry
}

// RawResource is an extracted asset candidate. Resources that remain
// unreferenced after rewriting are dropped.
type RawResource struct {
	OriginalPath string
	MediaType    string
	Data         []byte
}

// Intermediate is the format-independent output of an extractor.
type Intermediate struct {
	Book      domain.Book // format, title and best-effort metadata filled in
	Sections  []RawSection
	TOC       []RawTOCEntry
	Resources []RawResource
	Warnings  []domain.Warning
}

// Source is one extraction capability over a validated input file. The
// format detector selects the concrete implementation exactly once; nothing
// downstream dispatches on format again.
type Source interface {
	Format() domain.Format
	Extract(ctx context.Context) (*Intermediate, error)
}
